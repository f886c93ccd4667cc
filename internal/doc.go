// Package internal 提供兩人即時對戰服務的核心。
//
// 把兩位陌生玩家配成一局私人對戰，轉發雙方的遊戲狀態並在伺服器端做分數檢查，
// 雙方都結束時決定勝負並把最終分數寫入排行榜。
//
// # 元件
//
//   - Registry：連線註冊表，在表中即代表在線
//   - Matchmaker：先來先配對，單一等待位由配對迴圈獨佔
//   - Session：對局狀態機，Active → Resolved 只發生一次
//   - Relay：訊息分派、分數增量檢查、通知對手與結算
//   - Hub：WebSocket 升級、讀寫迴圈與心跳
//   - Handler：HTTP 路由（/ws、/api/v1/leaderboard、/health、/stats）
//
// # 訊息流程
//
//	connect → Registry.Register
//	JOIN_QUEUE → Matchmaker.Enqueue → GAME_START（雙方相同 roomId 與 seed）
//	UPDATE_SCORE → OPPONENT_UPDATE
//	PLAYER_DIED → OPPONENT_UPDATE，雙方皆死 → GAME_OVER
//	LEAVE_GAME 或斷線 → OPPONENT_LEFT
//
// # 鎖順序
//
// Session.mu → Registry.mu → Connection.mu。對手通知與 GAME_OVER 都在
// 房間鎖內送出，因此同一房間的通知順序等於狀態變更順序；排行榜寫入與
// 事件發布在釋放房間鎖之後進行。
//
// # 使用範例
//
//	registry := internal.NewRegistry(logger)
//	sessions := internal.NewSessionTable()
//	matchmaker := internal.NewMatchmaker(registry, sessions, publisher, 100, logger)
//	relay := internal.NewRelay(registry, sessions, matchmaker, board, publisher, internal.RelayConfig{}, logger)
//	hub := internal.NewHub(registry, matchmaker, relay, internal.HubConfig{}, logger)
//	handler := internal.NewHandler(hub, registry, sessions, matchmaker, board, logger)
//
//	http.ListenAndServe(":8080", handler.Routes())
package internal
