// Package audit はゲートウェイの判断結果をSQLiteに記録する監査ログを提供する。
//
// 1リクエストにつき、終端状態（転送・拒否・転送失敗）に達した時点で1行を追記する。
// アイデンティティのsubject等の利用者情報は記録せず、認証済みかどうかだけを残す。
package audit
