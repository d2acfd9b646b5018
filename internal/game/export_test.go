package game

// 讓外部測試可以直接觸發單次 tick

func (g *Game) RunScoreTick() { g.scoreTick() }

func (g *Game) RunSyncTick() { g.syncTick() }
