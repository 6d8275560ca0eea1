package syncer

import (
	"time"

	"github.com/hitoshi/homechef/internal/model"
)

// Outcome はエラーに基づく同期結果の分類。
type Outcome int

const (
	// OutcomeOK は同期成功。
	OutcomeOK Outcome = iota
	// OutcomeStop は再ログインが必要なため、セッションが変わるまで同期を止める。
	OutcomeStop
	// OutcomeBackoff は通信系の失敗のため、次回の同期を遅らせる。
	OutcomeBackoff
	// OutcomeSkip は業務エラーなど、次の周期でそのまま再実行してよい失敗。
	OutcomeSkip
)

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = time.Minute
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 30 * time.Minute
)

// Classify は同期エラーを分類する。
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		return OutcomeBackoff
	}
	switch apiErr.Category {
	case model.CategoryAuth:
		return OutcomeStop
	case model.CategoryNetwork, model.CategorySystem:
		return OutcomeBackoff
	default:
		return OutcomeSkip
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回1分、2倍ずつ増加、最大30分。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 1; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
