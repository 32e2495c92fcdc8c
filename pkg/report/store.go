package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"pathequiv/pkg/equiv"
)

// ErrNotFound 报告不存在
var ErrNotFound = errors.New("report not found")

// 键前缀, 在pebble的扁平键空间中区分逻辑分组
//
//	report:<id>            -> 报告JSON
//	time:<unixnano>:<id>   -> 历史条目JSON
var (
	prefixReport = []byte("report:")
	prefixTime   = []byte("time:")
)

// Entry 历史列表中的一条记录
type Entry struct {
	ID         string               `json:"id"`
	ProgramA   string               `json:"program_a"`
	ProgramB   string               `json:"program_b"`
	Verdict    equiv.ProgramVerdict `json:"verdict"`
	Pairs      int                  `json:"pairs"`
	Unmatched  int                  `json:"unmatched"`
	Incomplete bool                 `json:"incomplete,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
}

// Store 基于pebble的报告存储
type Store struct {
	db     *pebble.DB
	logger *zap.Logger
}

// OpenStore 打开或创建报告存储目录
func OpenStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open report store %q: %w", dir, err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func reportKey(id string) []byte {
	return append(append([]byte(nil), prefixReport...), id...)
}

// timeKey 时间戳定长十进制编码, 字节序即时间序
func timeKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixTime, t.UnixNano(), id))
}

// prefixEnd 返回前缀的上界 (不含)
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func entryOf(r *equiv.Report) Entry {
	return Entry{
		ID:         r.ID,
		ProgramA:   r.ProgramA,
		ProgramB:   r.ProgramB,
		Verdict:    r.Summary.Verdict,
		Pairs:      r.Summary.Pairs,
		Unmatched:  r.Summary.UnmatchedCount,
		Incomplete: r.Summary.Incomplete,
		StartedAt:  r.StartedAt,
	}
}

// Put 保存报告; 相同ID的旧报告及其历史条目被替换
func (s *Store) Put(r *equiv.Report) error {
	if r.ID == "" {
		return fmt.Errorf("report has no id")
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	// 清理旧的历史条目
	old, err := s.Get(r.ID)
	switch {
	case err == nil:
		if err := batch.Delete(timeKey(old.StartedAt, old.ID), nil); err != nil {
			return fmt.Errorf("failed to drop stale index for %s: %w", r.ID, err)
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", r.ID, err)
	}
	if err := batch.Set(reportKey(r.ID), data, nil); err != nil {
		return fmt.Errorf("failed to store report %s: %w", r.ID, err)
	}

	entry, err := json.Marshal(entryOf(r))
	if err != nil {
		return fmt.Errorf("failed to encode entry %s: %w", r.ID, err)
	}
	if err := batch.Set(timeKey(r.StartedAt, r.ID), entry, nil); err != nil {
		return fmt.Errorf("failed to index report %s: %w", r.ID, err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit report %s: %w", r.ID, err)
	}
	s.logger.Debug("[Store] report saved", zap.String("id", r.ID), zap.Int("bytes", len(data)))
	return nil
}

// Get 按ID读取报告
func (s *Store) Get(id string) (*equiv.Report, error) {
	data, closer, err := s.db.Get(reportKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read report %s: %w", id, err)
	}
	defer closer.Close()

	var r equiv.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", id, err)
	}
	return &r, nil
}

// List 按时间倒序列出最近的报告, limit<=0 时返回全部
func (s *Store) List(limit int) ([]Entry, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixTime,
		UpperBound: prefixEnd(prefixTime),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var entries []Entry
	for valid := iter.Last(); valid; valid = iter.Prev() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			s.logger.Warn("[Store] skipping corrupt entry", zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return entries, nil
}

// Delete 删除报告及其历史条目
func (s *Store) Delete(id string) error {
	r, err := s.Get(id)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(reportKey(id), nil); err != nil {
		return err
	}
	if err := batch.Delete(timeKey(r.StartedAt, id), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}
