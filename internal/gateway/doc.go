// Package gateway はAPI GatewayのHTTP境界を提供する。
//
// 外部からアクセス可能な唯一の入り口であり、セキュリティの境界線となる。
// ゲートウェイ自身のエンドポイント（health, info, ready, metrics）以外の
// すべてのリクエストをパイプラインに渡し、ルート解決と認可判断の結果に応じて
// 内部サービスに転送するか、エラーレスポンスを返す。
package gateway
