// Package middleware はゲートウェイのHTTP境界で使用する共通のGinミドルウェアを提供する。
//
// リクエストIDの採番、アクセスログ、パニックリカバリ、CORS設定を含む。
// 認証と認可はミドルウェアではなくリクエストパイプラインで行う。
package middleware
