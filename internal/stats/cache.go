// Package stats はNDA統計の日付キー付きインプロセスキャッシュを提供する。
//
// 統計はランディングページ表示用の全体集計であり、ユーザーごとには
// キャッシュしない。キーはUTCの暦日で、日付が変わると自動的に失効する。
// キャッシュはプロセスローカルで、再起動で消える。
package stats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hitoshi/ndaflow/internal/model"
)

// Loader は統計の取得元。キャッシュミス時に呼ばれる。
type Loader interface {
	Statistics(ctx context.Context) (*model.NDAStatistics, error)
}

// entry はキャッシュの内容。常に1エントリのみ保持し、丸ごと差し替える。
type entry struct {
	day   string
	stats *model.NDAStatistics
}

// Cache はNDA統計の日付キー付きキャッシュ。
// 同時ミスが発生した場合は各ゴルーチンがそれぞれ取得し、
// 後勝ちで格納する（統計は近似値でよいためロックで直列化しない）。
type Cache struct {
	loader Loader
	value  atomic.Value // *entry
	now    func() time.Time
}

// NewCache はCacheを生成する。
func NewCache(loader Loader) *Cache {
	return &Cache{
		loader: loader,
		now:    time.Now,
	}
}

// dayKey はUTCの暦日キー（YYYY-MM-DD）を返す。
func (c *Cache) dayKey() string {
	return c.now().UTC().Format("2006-01-02")
}

// Get は当日分の統計を返す。キャッシュ済みならそれを、
// 未取得または日付が変わっていればloaderから取得して差し替える。
// loaderが失敗した場合、古いキャッシュには戻らずエラーを返す。
func (c *Cache) Get(ctx context.Context) (*model.NDAStatistics, error) {
	day := c.dayKey()

	if e, ok := c.value.Load().(*entry); ok && e.day == day {
		return e.stats, nil
	}

	stats, err := c.loader.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	c.value.Store(&entry{day: day, stats: stats})
	return stats, nil
}

// Invalidate はキャッシュを破棄する。次のGetでloaderから再取得される。
func (c *Cache) Invalidate() {
	c.value.Store(&entry{})
}
