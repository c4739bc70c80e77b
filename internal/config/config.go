package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"archivist/internal/fsutil"
)

type ProviderConfig struct {
	BaseURL    string `json:"base_url" yaml:"base_url"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	TimeoutMS  int    `json:"timeout_ms" yaml:"timeout_ms"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
}

type ChunkConfig struct {
	MaxWords       int     `json:"max_words" yaml:"max_words"`
	MinWords       int     `json:"min_words" yaml:"min_words"`
	OverlapSeconds float64 `json:"overlap_seconds" yaml:"overlap_seconds"`
}

type DiarizeConfig struct {
	MinSegmentSeconds float64 `json:"min_segment_seconds" yaml:"min_segment_seconds"`
	Threshold         float64 `json:"threshold" yaml:"threshold"`
	// VoiceEmbedURL 为空时跳过说话人聚类，所有片段标记为 Unknown
	// VoiceEmbedURL empty disables clustering; every segment is labelled Unknown
	VoiceEmbedURL string `json:"voice_embed_url" yaml:"voice_embed_url"`
}

type LiveConfig struct {
	PartialIntervalMS int `json:"partial_interval_ms" yaml:"partial_interval_ms"`
}

// ErrInvalid 配置补丁无法解析或取值非法
// ErrInvalid marks a settings patch that cannot be parsed or holds bad values
var ErrInvalid = errors.New("config: invalid settings")

// Settings 显式的全局配置对象，通过构造函数传递
// Settings is the explicit configuration object threaded through constructors
type Settings struct {
	LibraryRoot string         `json:"library_root" yaml:"library_root"`
	Language    string         `json:"language" yaml:"language"`
	Provider    ProviderConfig `json:"provider" yaml:"provider"`

	EmbedModelDoc   string `json:"embed_model_doc" yaml:"embed_model_doc"`
	EmbedModelQuery string `json:"embed_model_query" yaml:"embed_model_query"`
	SummaryModel    string `json:"summary_model" yaml:"summary_model"`
	TitleModel      string `json:"title_model" yaml:"title_model"`
	ASRModel        string `json:"asr_model" yaml:"asr_model"`

	AutoEmbed        bool `json:"auto_embed" yaml:"auto_embed"`
	AutoSummarize    bool `json:"auto_summarize" yaml:"auto_summarize"`
	AutoTitleSuggest bool `json:"auto_title_suggest" yaml:"auto_title_suggest"`

	FolderSuggestionThreshold float64 `json:"folder_suggestion_threshold" yaml:"folder_suggestion_threshold"`
	SearchThreshold           float64 `json:"search_threshold" yaml:"search_threshold"`
	SearchTopK                int     `json:"search_top_k" yaml:"search_top_k"`

	Chunk   ChunkConfig   `json:"chunk" yaml:"chunk"`
	Diarize DiarizeConfig `json:"diarize" yaml:"diarize"`
	Live    LiveConfig    `json:"live" yaml:"live"`

	EmbedCacheDir    string `json:"embed_cache_dir" yaml:"embed_cache_dir"`
	SummaryMaxChars  int    `json:"summary_max_chars" yaml:"summary_max_chars"`
	PromptTokenLimit int    `json:"prompt_token_limit" yaml:"prompt_token_limit"`

	Workers                int    `json:"workers" yaml:"workers"`
	ReconcileMinIntervalMS int    `json:"reconcile_min_interval_ms" yaml:"reconcile_min_interval_ms"`
	LogLevel               string `json:"log_level" yaml:"log_level"`
}

// --- File overlay ---

type fileProviderConfig struct {
	BaseURL    *string `json:"base_url" yaml:"base_url"`
	APIKey     *string `json:"api_key" yaml:"api_key"`
	TimeoutMS  *int    `json:"timeout_ms" yaml:"timeout_ms"`
	MaxRetries *int    `json:"max_retries" yaml:"max_retries"`
}

type fileChunkConfig struct {
	MaxWords       *int     `json:"max_words" yaml:"max_words"`
	MinWords       *int     `json:"min_words" yaml:"min_words"`
	OverlapSeconds *float64 `json:"overlap_seconds" yaml:"overlap_seconds"`
}

type fileDiarizeConfig struct {
	MinSegmentSeconds *float64 `json:"min_segment_seconds" yaml:"min_segment_seconds"`
	Threshold         *float64 `json:"threshold" yaml:"threshold"`
	VoiceEmbedURL     *string  `json:"voice_embed_url" yaml:"voice_embed_url"`
}

type fileLiveConfig struct {
	PartialIntervalMS *int `json:"partial_interval_ms" yaml:"partial_interval_ms"`
}

type fileSettings struct {
	LibraryRoot *string             `json:"library_root" yaml:"library_root"`
	Language    *string             `json:"language" yaml:"language"`
	Provider    *fileProviderConfig `json:"provider" yaml:"provider"`

	EmbedModelDoc   *string `json:"embed_model_doc" yaml:"embed_model_doc"`
	EmbedModelQuery *string `json:"embed_model_query" yaml:"embed_model_query"`
	SummaryModel    *string `json:"summary_model" yaml:"summary_model"`
	TitleModel      *string `json:"title_model" yaml:"title_model"`
	ASRModel        *string `json:"asr_model" yaml:"asr_model"`

	AutoEmbed        *bool `json:"auto_embed" yaml:"auto_embed"`
	AutoSummarize    *bool `json:"auto_summarize" yaml:"auto_summarize"`
	AutoTitleSuggest *bool `json:"auto_title_suggest" yaml:"auto_title_suggest"`

	FolderSuggestionThreshold *float64 `json:"folder_suggestion_threshold" yaml:"folder_suggestion_threshold"`
	SearchThreshold           *float64 `json:"search_threshold" yaml:"search_threshold"`
	SearchTopK                *int     `json:"search_top_k" yaml:"search_top_k"`

	Chunk   *fileChunkConfig   `json:"chunk" yaml:"chunk"`
	Diarize *fileDiarizeConfig `json:"diarize" yaml:"diarize"`
	Live    *fileLiveConfig    `json:"live" yaml:"live"`

	EmbedCacheDir    *string `json:"embed_cache_dir" yaml:"embed_cache_dir"`
	SummaryMaxChars  *int    `json:"summary_max_chars" yaml:"summary_max_chars"`
	PromptTokenLimit *int    `json:"prompt_token_limit" yaml:"prompt_token_limit"`

	Workers                *int    `json:"workers" yaml:"workers"`
	ReconcileMinIntervalMS *int    `json:"reconcile_min_interval_ms" yaml:"reconcile_min_interval_ms"`
	LogLevel               *string `json:"log_level" yaml:"log_level"`
}

func Default() Settings {
	return Settings{
		LibraryRoot: DefaultLibraryRoot,
		Language:    DefaultLanguage,
		Provider: ProviderConfig{
			BaseURL:    DefaultBaseURL,
			TimeoutMS:  DefaultTimeoutMS,
			MaxRetries: DefaultMaxRetries,
		},
		EmbedModelDoc:             DefaultEmbedModel,
		EmbedModelQuery:           DefaultEmbedModel,
		SummaryModel:              DefaultChatModel,
		TitleModel:                DefaultChatModel,
		ASRModel:                  DefaultASRModel,
		AutoEmbed:                 true,
		FolderSuggestionThreshold: DefaultFolderSuggestionThreshold,
		SearchThreshold:           DefaultSearchThreshold,
		SearchTopK:                DefaultSearchTopK,
		Chunk: ChunkConfig{
			MaxWords:       DefaultChunkMaxWords,
			MinWords:       DefaultChunkMinWords,
			OverlapSeconds: DefaultChunkOverlapSeconds,
		},
		Diarize: DiarizeConfig{
			MinSegmentSeconds: DefaultDiarizeMinSegmentSeconds,
			Threshold:         DefaultDiarizeThreshold,
		},
		Live:                   LiveConfig{PartialIntervalMS: DefaultLivePartialIntervalMS},
		SummaryMaxChars:        DefaultSummaryMaxChars,
		PromptTokenLimit:       DefaultPromptTokenLimit,
		Workers:                DefaultWorkers,
		ReconcileMinIntervalMS: DefaultReconcileMinIntervalMS,
		LogLevel:               DefaultLogLevel,
	}
}

// Load 按顺序合并：默认值、全局配置、项目配置、库内 settings.json、环境变量
// Load layers defaults, the global file, the project file, the library's
// settings.json and the environment, in that order
func Load(path string) (Settings, error) {
	s := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&s, globalPath); err != nil {
			return Settings{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("ARCHIVIST_CONFIG")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&s, resolvedPath); err != nil {
		return Settings{}, err
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVIST_LIBRARY_ROOT")); v != "" {
		s.LibraryRoot = v
	}
	if err := normalize(&s); err != nil {
		return Settings{}, err
	}

	// settings.json lives inside the library and cannot move it.
	root := s.LibraryRoot
	if err := mergeFromFile(&s, s.SettingsPath()); err != nil {
		return Settings{}, err
	}
	s.LibraryRoot = root

	return applyEnv(s)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".archivist")
	return []string{filepath.Join(dir, "config.json"), filepath.Join(dir, "config.jsonc")}
}

func findProjectConfigPath() string {
	candidates := []string{
		"archivist.config.json",
		"archivist.config.jsonc",
		"archivist.config.yaml",
		"archivist.config.yml",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(s *Settings, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	var fs fileSettings
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fs); err != nil {
			return fmt.Errorf("parse config %q: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(stripJSONComments(data), &fs); err != nil {
			return fmt.Errorf("parse config %q: %w", resolved, err)
		}
	}
	applyFileSettings(s, fs)
	return nil
}

// Merge 将部分 JSON 对象叠加到 base 上并规范化
// Merge overlays a partial JSON object onto base and normalizes the result
func Merge(base Settings, patch []byte) (Settings, error) {
	var fs fileSettings
	dec := json.NewDecoder(bytes.NewReader(patch))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fs); err != nil {
		return Settings{}, fmt.Errorf("%w: parse settings patch: %v", ErrInvalid, err)
	}
	applyFileSettings(&base, fs)
	if err := normalize(&base); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return base, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func applyFileSettings(s *Settings, fs fileSettings) {
	setString(&s.LibraryRoot, fs.LibraryRoot)
	setString(&s.Language, fs.Language)
	if p := fs.Provider; p != nil {
		setString(&s.Provider.BaseURL, p.BaseURL)
		setString(&s.Provider.APIKey, p.APIKey)
		set(&s.Provider.TimeoutMS, p.TimeoutMS)
		set(&s.Provider.MaxRetries, p.MaxRetries)
	}
	setString(&s.EmbedModelDoc, fs.EmbedModelDoc)
	setString(&s.EmbedModelQuery, fs.EmbedModelQuery)
	setString(&s.SummaryModel, fs.SummaryModel)
	setString(&s.TitleModel, fs.TitleModel)
	setString(&s.ASRModel, fs.ASRModel)

	set(&s.AutoEmbed, fs.AutoEmbed)
	set(&s.AutoSummarize, fs.AutoSummarize)
	set(&s.AutoTitleSuggest, fs.AutoTitleSuggest)

	set(&s.FolderSuggestionThreshold, fs.FolderSuggestionThreshold)
	set(&s.SearchThreshold, fs.SearchThreshold)
	set(&s.SearchTopK, fs.SearchTopK)

	if c := fs.Chunk; c != nil {
		set(&s.Chunk.MaxWords, c.MaxWords)
		set(&s.Chunk.MinWords, c.MinWords)
		set(&s.Chunk.OverlapSeconds, c.OverlapSeconds)
	}
	if d := fs.Diarize; d != nil {
		set(&s.Diarize.MinSegmentSeconds, d.MinSegmentSeconds)
		set(&s.Diarize.Threshold, d.Threshold)
		setString(&s.Diarize.VoiceEmbedURL, d.VoiceEmbedURL)
	}
	if l := fs.Live; l != nil {
		set(&s.Live.PartialIntervalMS, l.PartialIntervalMS)
	}

	setString(&s.EmbedCacheDir, fs.EmbedCacheDir)
	set(&s.SummaryMaxChars, fs.SummaryMaxChars)
	set(&s.PromptTokenLimit, fs.PromptTokenLimit)
	set(&s.Workers, fs.Workers)
	set(&s.ReconcileMinIntervalMS, fs.ReconcileMinIntervalMS)
	setString(&s.LogLevel, fs.LogLevel)
}

func applyEnv(s Settings) (Settings, error) {
	if v := strings.TrimSpace(os.Getenv("ARCHIVIST_BASE_URL")); v != "" {
		s.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVIST_API_KEY")); v != "" {
		s.Provider.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" && s.Provider.APIKey == "" {
		s.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVIST_LOG_LEVEL")); v != "" {
		s.LogLevel = v
	}
	return s, normalize(&s)
}

func normalize(s *Settings) error {
	d := Default()
	if s.LibraryRoot == "" {
		s.LibraryRoot = d.LibraryRoot
	}
	root, err := expandPath(s.LibraryRoot)
	if err != nil {
		return fmt.Errorf("expand library_root: %w", err)
	}
	s.LibraryRoot = root

	orDefault(&s.Language, d.Language)
	orDefault(&s.Provider.BaseURL, d.Provider.BaseURL)
	s.Provider.BaseURL = strings.TrimRight(s.Provider.BaseURL, "/")
	positive(&s.Provider.TimeoutMS, d.Provider.TimeoutMS)
	if s.Provider.MaxRetries < 0 {
		s.Provider.MaxRetries = 0
	}

	orDefault(&s.EmbedModelDoc, d.EmbedModelDoc)
	orDefault(&s.EmbedModelQuery, s.EmbedModelDoc)
	orDefault(&s.SummaryModel, d.SummaryModel)
	orDefault(&s.TitleModel, s.SummaryModel)
	orDefault(&s.ASRModel, d.ASRModel)

	if s.FolderSuggestionThreshold <= 0 {
		s.FolderSuggestionThreshold = d.FolderSuggestionThreshold
	}
	if s.SearchThreshold < 0 {
		s.SearchThreshold = d.SearchThreshold
	}
	positive(&s.SearchTopK, d.SearchTopK)

	positive(&s.Chunk.MaxWords, d.Chunk.MaxWords)
	positive(&s.Chunk.MinWords, d.Chunk.MinWords)
	if s.Chunk.MinWords > s.Chunk.MaxWords {
		s.Chunk.MinWords = s.Chunk.MaxWords
	}
	if s.Chunk.OverlapSeconds < 0 {
		s.Chunk.OverlapSeconds = 0
	}
	if s.Diarize.MinSegmentSeconds < 0 {
		s.Diarize.MinSegmentSeconds = d.Diarize.MinSegmentSeconds
	}
	if s.Diarize.Threshold <= 0 || s.Diarize.Threshold > 1 {
		s.Diarize.Threshold = d.Diarize.Threshold
	}
	positive(&s.Live.PartialIntervalMS, d.Live.PartialIntervalMS)

	if s.EmbedCacheDir == "" {
		s.EmbedCacheDir = filepath.Join(s.LibraryRoot, ".cache", "embeddings")
	} else if s.EmbedCacheDir != "-" {
		if s.EmbedCacheDir, err = expandPath(s.EmbedCacheDir); err != nil {
			return fmt.Errorf("expand embed_cache_dir: %w", err)
		}
	}
	positive(&s.SummaryMaxChars, d.SummaryMaxChars)
	if s.PromptTokenLimit < 0 {
		s.PromptTokenLimit = 0
	}
	positive(&s.Workers, d.Workers)
	positive(&s.ReconcileMinIntervalMS, d.ReconcileMinIntervalMS)

	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))
	if s.LogLevel == "" {
		s.LogLevel = d.LogLevel
	}
	if _, err := parseLevel(s.LogLevel); err != nil {
		return err
	}
	return nil
}

func orDefault(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func positive(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}

func parseLevel(v string) (slog.Level, error) {
	switch v {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log_level: %q", v)
}

// --- Accessors ---

// Level 返回 slog 日志级别 / Level returns the slog level for log_level
func (s Settings) Level() slog.Level {
	lvl, _ := parseLevel(s.LogLevel)
	return lvl
}

// SettingsPath 库内 settings.json 的路径 / SettingsPath is the library's settings.json
func (s Settings) SettingsPath() string {
	return filepath.Join(s.LibraryRoot, SettingsFilename)
}

// VocabPath 库内 vocab.json 的路径 / VocabPath is the library's vocab.json
func (s Settings) VocabPath() string {
	return filepath.Join(s.LibraryRoot, "vocab.json")
}

func (s Settings) DatabasePath() string {
	return filepath.Join(s.LibraryRoot, ".index", "archivist.db")
}

// CacheEnabled reports whether the embedding cache is on. "-" disables it.
func (s Settings) CacheEnabled() bool { return s.EmbedCacheDir != "-" }

func (s Settings) ReconcileMinInterval() time.Duration {
	return time.Duration(s.ReconcileMinIntervalMS) * time.Millisecond
}

func (s Settings) PartialInterval() time.Duration {
	return time.Duration(s.Live.PartialIntervalMS) * time.Millisecond
}

// Save 原子写入 JSON 配置 / Save writes settings as JSON with an atomic replace
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir settings dir: %w", err)
	}
	if err := fsutil.WriteJSONAtomic(path, s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}
	return out.Bytes()
}
