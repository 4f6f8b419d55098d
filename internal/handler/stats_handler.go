package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/ndaflow/internal/model"
)

// StatsProviderInterface は統計ハンドラーが必要とするインターフェース。
// 実体は日付キー付きキャッシュ（internal/stats）で、ミス時のみDBへ問い合わせる。
type StatsProviderInterface interface {
	Get(ctx context.Context) (*model.NDAStatistics, error)
}

// StatsHandler はNDA統計のHTTPハンドラー。
type StatsHandler struct {
	provider StatsProviderInterface
}

// NewStatsHandler はStatsHandlerを生成する。
func NewStatsHandler(provider StatsProviderInterface) *StatsHandler {
	return &StatsHandler{provider: provider}
}

// statsResponse はNDA統計のAPIレスポンス。
type statsResponse struct {
	Total       int `json:"total"`
	Signed      int `json:"signed"`
	Declined    int `json:"declined"`
	SignedToday int `json:"signed_today"`
}

// Get は全体の集計値を返す。
// ユーザー固有の値は含まないため、認証なしで公開される。
// GET /api/nda-statistics
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.provider.Get(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statsResponse{
		Total:       stats.Total,
		Signed:      stats.Signed,
		Declined:    stats.Declined,
		SignedToday: stats.SignedToday,
	})
}
