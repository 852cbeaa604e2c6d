// Package httpclient はゲートウェイから内部サービスへリクエストを転送するクライアントを提供する。
//
// 転送先はサービスIDとベースURLの静的な対応表から決める。
// サービスの動的な探索や負荷分散は行わない。
package httpclient
