package prediction

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"confluence/internal/feature"
	"confluence/internal/logger"
)

// Snapshot 是当前被接受的 manifest。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Manifest Manifest
}

// ChangeListener 在新 manifest 被接受后触发。
type ChangeListener func(Snapshot)

// Watcher 持有被接受的 manifest，并在文件变化时重新校验；不兼容的替换被拒绝，旧模型继续生效。
type Watcher struct {
	path   string
	schema feature.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
	rejected  int64
}

// NewWatcher 加载并校验 manifest；watch 为 true 时监听文件变化。
func NewWatcher(path string, schema feature.Schema, watch bool) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("model manifest watcher requires path")
	}
	w := &Watcher{path: path, schema: schema}
	if err := w.reload(); err != nil {
		return nil, err
	}
	if !watch {
		return w, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read model manifest failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			w.mu.Lock()
			w.rejected++
			w.mu.Unlock()
			logger.Errorf("[prediction] manifest swap rejected (%s): %v", evt.Op, err)
			return
		}
		w.notifyListeners()
	})
	v.WatchConfig()
	return w, nil
}

// Current 返回当前 manifest。
func (w *Watcher) Current() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Rejected 返回被拒绝的替换次数。
func (w *Watcher) Rejected() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rejected
}

// OnChange 注册变更回调。
func (w *Watcher) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Accept 拒绝模型版本与当前 manifest 不一致的预测。
func (w *Watcher) Accept(p Prediction) error {
	current := w.Current().Manifest.ModelVersion
	if p.ModelVersion != current {
		return fmt.Errorf("%s at %s: got %q want %q: %w",
			p.Instrument, p.Timestamp.Format(time.RFC3339), p.ModelVersion, current, ErrModelVersion)
	}
	return nil
}

// Reload 手动重新加载，返回校验错误。
func (w *Watcher) Reload() error {
	if err := w.reload(); err != nil {
		return err
	}
	w.notifyListeners()
	return nil
}

func (w *Watcher) reload() error {
	m, err := LoadManifest(w.path)
	if err != nil {
		return err
	}
	if err := CheckCompatible(m, w.schema); err != nil {
		return err
	}
	w.mu.Lock()
	prev := w.snapshot.Manifest.ModelVersion
	w.snapshot = Snapshot{
		Version:  w.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Manifest: m,
	}
	w.mu.Unlock()
	if prev != "" && prev != m.ModelVersion {
		logger.Infof("[prediction] model swapped %s -> %s (%s)", prev, m.ModelVersion, filepath.Base(w.path))
	} else {
		logger.Infof("[prediction] model %s accepted, %d features (%s)", m.ModelVersion, len(m.FeatureSchema), filepath.Base(w.path))
	}
	return nil
}

func (w *Watcher) notifyListeners() {
	w.mu.RLock()
	snap := w.snapshot
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("[prediction] manifest listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}
