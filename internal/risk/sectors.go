package risk

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"autotrade/internal/pkg/symbol"
)

// SectorSource 提供板块归属与板块间相关性表。
type SectorSource interface {
	SectorOf(sym string) (string, bool)
	SectorCorrelation(a, b string) (float64, bool)
}

// SectorPair 是静态相关性表中的一项。
type SectorPair struct {
	A     string  `yaml:"a"`
	B     string  `yaml:"b"`
	Value float64 `yaml:"value"`
}

// SectorFile 映射 sectors.yaml。
type SectorFile struct {
	Sectors      map[string][]string `yaml:"sectors"`
	Correlations []SectorPair        `yaml:"correlations"`
}

// SectorTable 是一次加载后的只读板块表。
type SectorTable struct {
	Version  int64
	LoadedAt time.Time

	bySymbol map[string]string
	pairs    map[[2]string]float64
}

func NewSectorTable(f SectorFile) (*SectorTable, error) {
	t := &SectorTable{
		LoadedAt: time.Now(),
		bySymbol: make(map[string]string),
		pairs:    make(map[[2]string]float64),
	}
	for sector, symbols := range f.Sectors {
		sector = normSector(sector)
		if sector == "" {
			return nil, fmt.Errorf("sector name is empty")
		}
		for _, raw := range symbols {
			sym := symbol.Normalize(raw)
			if sym == "" {
				continue
			}
			if prev, ok := t.bySymbol[sym]; ok && prev != sector {
				return nil, fmt.Errorf("symbol %s listed in both %s and %s", sym, prev, sector)
			}
			t.bySymbol[sym] = sector
		}
	}
	for _, p := range f.Correlations {
		if p.Value < -1 || p.Value > 1 {
			return nil, fmt.Errorf("correlation %s/%s=%.3f out of [-1,1]", p.A, p.B, p.Value)
		}
		a, b := normSector(p.A), normSector(p.B)
		if a == "" || b == "" {
			return nil, fmt.Errorf("correlation entry requires both sectors")
		}
		t.pairs[sectorKey(a, b)] = p.Value
	}
	return t, nil
}

func (t *SectorTable) SectorOf(sym string) (string, bool) {
	if t == nil {
		return "", false
	}
	s, ok := t.bySymbol[symbol.Normalize(sym)]
	return s, ok
}

func (t *SectorTable) SectorCorrelation(a, b string) (float64, bool) {
	if t == nil {
		return 0, false
	}
	v, ok := t.pairs[sectorKey(normSector(a), normSector(b))]
	return v, ok
}

func (t *SectorTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.bySymbol)
}

// SectorRegistry 从 YAML 文件加载板块表，并在文件变更时热重载。
type SectorRegistry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	table     *SectorTable
	listeners []func(*SectorTable)
}

// NewSectorRegistry 读取文件并开始监听；watch=false 时只加载一次。
func NewSectorRegistry(path string, watch bool) (*SectorRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sector registry requires path")
	}
	r := &SectorRegistry{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read sector config failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := r.reload(); err != nil {
				log.Errorf("sector table reload failed (%s): %v", evt.Name, err)
				return
			}
			r.notify()
		})
		v.WatchConfig()
		r.v = v
	}
	return r, nil
}

func (r *SectorRegistry) Table() *SectorTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table
}

// OnReload 注册重载回调。
func (r *SectorRegistry) OnReload(fn func(*SectorTable)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *SectorRegistry) SectorOf(sym string) (string, bool) {
	return r.Table().SectorOf(sym)
}

func (r *SectorRegistry) SectorCorrelation(a, b string) (float64, bool) {
	return r.Table().SectorCorrelation(a, b)
}

func (r *SectorRegistry) reload() error {
	f, err := readSectorFile(r.path)
	if err != nil {
		return err
	}
	table, err := NewSectorTable(f)
	if err != nil {
		return fmt.Errorf("sector config %s invalid: %w", filepath.Base(r.path), err)
	}
	r.mu.Lock()
	if r.table != nil {
		table.Version = r.table.Version + 1
	} else {
		table.Version = 1
	}
	r.table = table
	r.mu.Unlock()
	log.Infof("sector table v%d loaded %d symbols from %s", table.Version, table.Len(), filepath.Base(r.path))
	return nil
}

func (r *SectorRegistry) notify() {
	r.mu.RLock()
	table := r.table
	listeners := append([]func(*SectorTable){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Errorf("sector reload listener panic: %v", rec)
				}
			}()
			fn(table)
		}()
	}
}

func readSectorFile(path string) (SectorFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SectorFile{}, fmt.Errorf("read sector config failed: %w", err)
	}
	var f SectorFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return SectorFile{}, fmt.Errorf("parse sector config failed: %w", err)
	}
	return f, nil
}

func normSector(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sectorKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}
