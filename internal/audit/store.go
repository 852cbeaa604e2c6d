package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/foodgate/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout はcreated_at列の書式。UTC固定・桁数固定にして文字列順と時刻順を一致させる。
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry は1リクエストの判断結果。
type Entry struct {
	// ID はレコードの一意識別子（UUID）。空の場合はRecordで採番する。
	ID string
	// RequestID はリクエストID。
	RequestID string
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// RouteID は解決されたルートのID。ルートが見つからなかった場合は空。
	RouteID string
	// Target は転送先サービス。
	Target string
	// Requirement は適用されたアクセス要件。ポリシー評価前に終わった場合は空。
	Requirement string
	// Outcome は終端の結果。forwarded, route_not_found, authorization_denied,
	// invalid_path, dispatch_failed のいずれか。
	Outcome string
	// Authenticated は検証済みのアイデンティティがあったかどうか。
	Authenticated bool
	// CreatedAt は記録日時。ゼロ値の場合はRecordで現在時刻を設定する。
	CreatedAt time.Time
}

// Recorder は判断結果を記録する。
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Nop は何も記録しないRecorder。監査ログを無効にした場合に使う。
type Nop struct{}

// Record は何もしない。
func (Nop) Record(context.Context, Entry) error {
	return nil
}

// Store はSQLiteに判断結果を保存する。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// now は現在時刻の取得関数。
	now func() time.Time
}

// Open はdsnのSQLiteを開き、マイグレーションを適用したStoreを返す。
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	s, err := New(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New は既存の接続からStoreを生成し、マイグレーションを適用する。
func New(ctx context.Context, db *sql.DB, logger *zap.Logger) (*Store, error) {
	// SQLiteは書き込みが1本のため接続を1つに絞る。":memory:" でも同じDBを共有できる。
	db.SetMaxOpenConns(1)
	if err := migration.Run(ctx, db, migrations, "migrations", logger); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Record は判断結果を1行追記する。
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (
			id, request_id, method, path, route_id, target, requirement, outcome, authenticated, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.Method, e.Path, e.RouteID, e.Target, e.Requirement, e.Outcome,
		e.Authenticated, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("監査ログの記録に失敗: %w", err)
	}
	return nil
}

// Recent は新しい順に最大limit件の判断結果を返す。
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, method, path, route_id, target, requirement, outcome, authenticated, created_at
		FROM decisions
		ORDER BY seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("監査ログの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Method, &e.Path, &e.RouteID, &e.Target,
			&e.Requirement, &e.Outcome, &e.Authenticated, &createdAt); err != nil {
			return nil, fmt.Errorf("監査ログの読み取りに失敗: %w", err)
		}
		e.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("created_atの解析に失敗: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByOutcome は結果ごとの件数を返す。
func (s *Store) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM decisions GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("監査ログの集計に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			outcome string
			n       int64
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("監査ログの集計結果の読み取りに失敗: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
