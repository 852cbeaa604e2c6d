// Package auth はBearerトークンの検証と、検証済みアイデンティティの受け渡しを提供する。
//
// トークンの発行（署名・ログインフロー）は扱わない。検証は共有秘密鍵と
// 現在時刻のみに依存する純粋な処理で、複数のリクエストから同時に呼び出してよい。
package auth
