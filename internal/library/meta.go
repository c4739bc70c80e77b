package library

import "encoding/json"

// MetaFilename 会话元数据文件名
// MetaFilename is the per-session metadata file name
const MetaFilename = "meta.json"

// MetaSchemaVersion 当前元数据格式版本
// MetaSchemaVersion is the current metadata format version
const MetaSchemaVersion = 1

// Participant 会话参与者
// Participant is one person attending a session
type Participant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Calendar 关联的日历事件
// Calendar is the calendar event a session is linked to
type Calendar struct {
	UID       string        `json:"uid"`
	Summary   string        `json:"summary"`
	Start     string        `json:"start"`
	End       string        `json:"end"`
	Location  string        `json:"location,omitempty"`
	Attendees []Participant `json:"attendees,omitempty"`
}

// Assets 逻辑资源名到会话目录内相对文件名的映射
// Assets maps logical asset names to file names relative to the session directory
type Assets struct {
	Audio          string `json:"audio"`
	TranscriptTxt  string `json:"transcript_txt"`
	TranscriptJSON string `json:"transcript_json"`
	EmbeddingJSON  string `json:"embedding_json"`
	SummaryTxt     string `json:"summary_txt"`
}

type assetsJSON struct {
	Audio          *string `json:"audio"`
	TranscriptTxt  *string `json:"transcript_txt"`
	TranscriptJSON *string `json:"transcript_json"`
	EmbeddingJSON  *string `json:"embedding_json"`
	SummaryTxt     *string `json:"summary_txt"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MarshalJSON writes absent assets as null.
func (a Assets) MarshalJSON() ([]byte, error) {
	return json.Marshal(assetsJSON{
		Audio:          nullable(a.Audio),
		TranscriptTxt:  nullable(a.TranscriptTxt),
		TranscriptJSON: nullable(a.TranscriptJSON),
		EmbeddingJSON:  nullable(a.EmbeddingJSON),
		SummaryTxt:     nullable(a.SummaryTxt),
	})
}

// Suggestions 模型生成的建议
// Suggestions holds model-generated suggestions
type Suggestions struct {
	TitleCandidates []string `json:"title_candidates"`
	Folder          *string  `json:"folder"`
}

// Meta 会话目录中 meta.json 的内容，是会话身份的权威来源
// Meta is the content of meta.json, the authoritative record of a session's identity
type Meta struct {
	SchemaVersion int           `json:"schema_version"`
	SessionID     string        `json:"session_id"`
	CreatedAt     string        `json:"created_at"`
	Title         string        `json:"title"`
	Tags          string        `json:"tags"`
	Participants  []Participant `json:"participants"`
	Calendar      *Calendar     `json:"calendar"`
	Assets        Assets        `json:"assets"`
	Suggestions   Suggestions   `json:"suggestions"`
}

// NewMeta 构造新会话的初始元数据
// NewMeta builds the initial metadata of a fresh session
func NewMeta(sessionID, createdAt, title, tags string) Meta {
	return Meta{
		SchemaVersion: MetaSchemaVersion,
		SessionID:     sessionID,
		CreatedAt:     createdAt,
		Title:         title,
		Tags:          tags,
		Participants:  []Participant{},
		Suggestions:   Suggestions{TitleCandidates: []string{}},
	}
}
