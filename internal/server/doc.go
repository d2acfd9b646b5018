// Package server 提供 Beacon Arena 的連線層
//
// # TCP 協定
//
// 客戶端以 TCP 連線，每則訊息是一個 JSON 物件並以換行結尾：
//
//	{"command":"CONNECT","request":{"userId":"alice"}}
//	{"command":"HOST"}
//	{"command":"CAPTURE","request":{"beaconId":"beacon-1"}}
//
// 伺服器回應：
//
//	{"status":"OK","command":"HOST","date":1717243200000,"response":{...}}
//	{"status":"ERR","command":"JOIN","code":"GAME_FULL","description":"...","date":1717243200000}
//
// 連線狀態：未驗證 → CONNECT → 開房（HOST）或加入（JOIN）。
// 錯誤只回 ERR，不會關閉連線；無法解析的訊息 command 為 null。
//
// # 併發設計
//
//   - 每條連線一個讀取 goroutine 與一個寫入 goroutine
//   - 寫入透過 Session 的緩衝佇列，遊戲廣播不會被慢的連線卡住
//   - 斷線時由 Dispatcher 通知遊戲（房主斷線會結束遊戲）
//
// # 管理 API
//
// AdminHandler 以 gin 提供只讀的查詢介面，並在 /ws 掛上 WebSocket 閘道，
// 瀏覽器客戶端可以用相同的指令遊玩。
package server
