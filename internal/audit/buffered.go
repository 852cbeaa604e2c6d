package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Buffered はRecorderへの書き込みをバックグラウンドのゴルーチンで行うRecorder。
// キューが満杯の場合やClose後は、呼び出し元のゴルーチンで同期的に書き込む。
type Buffered struct {
	// next は実際に書き込むRecorder。
	next Recorder
	// queue は書き込み待ちのエントリ。
	queue chan Entry
	// done はゴルーチンが終了したときに閉じられる。
	done chan struct{}
	// logger はロガー。
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewBuffered はキューの長さがsizeのBufferedを生成し、書き込み用のゴルーチンを起動する。
// 停止するにはCloseを呼ぶこと。
func NewBuffered(next Recorder, size int, logger *zap.Logger) *Buffered {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Buffered{
		next:   next,
		queue:  make(chan Entry, size),
		done:   make(chan struct{}),
		logger: logger.Named("audit"),
	}
	go b.run()
	return b
}

// Record はエントリをキューに積む。記録日時はこの時点の時刻になる。
func (b *Buffered) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.closed {
		select {
		case b.queue <- e:
			return nil
		default:
		}
	}
	return b.next.Record(ctx, e)
}

// Close は新しいエントリの受け付けを止め、キューに残ったエントリを書き込んでから戻る。
func (b *Buffered) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	<-b.done
}

func (b *Buffered) run() {
	defer close(b.done)
	for e := range b.queue {
		if err := b.next.Record(context.Background(), e); err != nil {
			b.logger.Error("監査ログの書き込みに失敗しました",
				zap.String("request_id", e.RequestID),
				zap.Error(err),
			)
		}
	}
}
