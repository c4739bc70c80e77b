package config

import "sync"

// RedactedSecret stands in for the API key in settings shown to clients.
// Applying a patch that carries it keeps the current key.
const RedactedSecret = "***"

// Live 运行期可替换的配置持有者
// Live holds the current settings and swaps them on update
type Live struct {
	mu  sync.RWMutex
	cur Settings
}

func NewLive(s Settings) *Live {
	return &Live{cur: s}
}

// Current returns a copy of the settings in effect.
func (l *Live) Current() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// Apply 合并部分配置、持久化到 settings.json 后替换当前配置
// Apply merges a partial JSON object, persists it to settings.json and swaps
// it in. library_root is fixed for the life of the process.
func (l *Live) Apply(patch []byte) (Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, err := Merge(l.cur, patch)
	if err != nil {
		return Settings{}, err
	}
	next.LibraryRoot = l.cur.LibraryRoot
	if next.Provider.APIKey == RedactedSecret {
		next.Provider.APIKey = l.cur.Provider.APIKey
	}
	if err := Save(next.SettingsPath(), next); err != nil {
		return Settings{}, err
	}
	l.cur = next
	return next, nil
}
