package models

// Visibility 消息可见性
type Visibility string

const (
	VisibilityPublic  Visibility = "public"  // 全员可见
	VisibilityTeam    Visibility = "team"    // 阵营可见
	VisibilityPrivate Visibility = "private" // 仅自己可见
	VisibilitySystem  Visibility = "system"  // 系统消息
)

// EventStatus 事件生命周期状态
type EventStatus string

const (
	StatusPending   EventStatus = "pending"   // 等待中
	StatusStreaming EventStatus = "streaming" // 流式输出中
	StatusFinal     EventStatus = "final"     // 已完成
	StatusError     EventStatus = "error"     // 出错
	StatusRetracted EventStatus = "retracted" // 已撤回
)

// IsTerminal 是否为终态（终态之后不再有流式更新）
func (s EventStatus) IsTerminal() bool {
	return s == StatusFinal || s == StatusError || s == StatusRetracted
}

// Phase 游戏阶段
type Phase string

const (
	PhaseNight   Phase = "Night"   // 夜晚
	PhaseDayTalk Phase = "DayTalk" // 白天讨论
	PhaseVote    Phase = "Vote"    // 投票
	PhaseTrial   Phase = "Trial"   // 审判
	PhaseResult  Phase = "Result"  // 结果公布
)

// EventType 事件类型
type EventType string

const (
	EventTypeSpeak       EventType = "speak"        // 发言
	EventTypeVote        EventType = "vote"         // 投票
	EventTypeNightAction EventType = "night_action" // 夜间行动
	EventTypeSystem      EventType = "system"       // 系统事件
	EventTypeAgentTool   EventType = "agent_tool"   // AI工具调用
)

// EventSubType 事件子类型
type EventSubType string

const (
	SubTypePublic EventSubType = "public" // 公开发言
	SubTypeTeam   EventSubType = "team"   // 阵营发言
	SubTypeSubmit EventSubType = "submit" // 提交行动
	SubTypeResult EventSubType = "result" // 行动结果
	SubTypePhase  EventSubType = "phase"  // 阶段变更
	SubTypeTimer  EventSubType = "timer"  // 计时提示
	SubTypeNotice EventSubType = "notice" // 系统通知
	SubTypeCall   EventSubType = "call"   // 工具调用
	SubTypeError  EventSubType = "error"  // 错误
)

// ContentBlock 结构化内容块
type ContentBlock struct {
	Type     string     `json:"type"` // markdown | table | image | code | vote_summary
	Content  string     `json:"content,omitempty"`
	Headers  []string   `json:"headers,omitempty"`
	Rows     [][]string `json:"rows,omitempty"`
	Src      string     `json:"src,omitempty"`
	Alt      string     `json:"alt,omitempty"`
	Language string     `json:"language,omitempty"`
	Code     string     `json:"code,omitempty"`
	Votes    []VoteInfo `json:"votes,omitempty"`
}

// Citation 引用来源
type Citation struct {
	Label    string `json:"label"`
	SourceID string `json:"source_id"`
}

// EventContent 事件内容载荷
type EventContent struct {
	Text      string         `json:"text,omitempty"`
	Blocks    []ContentBlock `json:"blocks,omitempty"`
	Citations []Citation     `json:"citations,omitempty"`
}

// GameEvent 服务端推送的游戏事件
// Idx 为服务端分配的房间内单调递增序号，同一Idx的重复到达表示原地更新而非追加
type GameEvent struct {
	Idx           int64        `json:"idx"`
	Type          EventType    `json:"type"`
	SubType       EventSubType `json:"sub_type"`
	Timestamp     int64        `json:"timestamp"`
	Seat          *int         `json:"seat,omitempty"`
	AuthorName    string       `json:"author_name"`
	Visibility    Visibility   `json:"visibility"`
	Phase         Phase        `json:"phase"`
	Content       EventContent `json:"content"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Status        EventStatus  `json:"status,omitempty"`
	RoleBadge     string       `json:"role_badge,omitempty"`
}

// Player 玩家信息
type Player struct {
	ID      string `json:"id"`
	Seat    int    `json:"seat"`
	Name    string `json:"name"`
	Role    string `json:"role,omitempty"` // 未揭示时为空
	IsAlive bool   `json:"is_alive"`
	IsAgent bool   `json:"is_agent"`
	Avatar  string `json:"avatar,omitempty"`
}

// RoomStatus 房间状态
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"  // 等待开始
	RoomPlaying  RoomStatus = "playing"  // 游戏中
	RoomFinished RoomStatus = "finished" // 已结束
)

// GameRoom 游戏房间信息
type GameRoom struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Status       RoomStatus   `json:"status"`
	CurrentPhase Phase        `json:"current_phase"`
	PhaseEndTime int64        `json:"phase_end_time,omitempty"` // 毫秒时间戳，0表示无截止时间
	Players      []Player     `json:"players"`
	MaxPlayers   int          `json:"max_players"`
	CreatedAt    int64        `json:"created_at"`
	Settings     GameSettings `json:"settings"`
}

// GameSettings 房间游戏设置
type GameSettings struct {
	WerewolfCount   int    `json:"werewolf_count"`
	VillagerCount   int    `json:"villager_count"`
	SeerCount       int    `json:"seer_count"`
	GuardCount      int    `json:"guard_count"`
	WitchCount      int    `json:"witch_count"`
	HunterCount     int    `json:"hunter_count"`
	DayDuration     int    `json:"day_duration"`
	NightDuration   int    `json:"night_duration"`
	VoteDuration    int    `json:"vote_duration"`
	EnableAgent     bool   `json:"enable_agent"`
	AgentDifficulty string `json:"agent_difficulty"` // easy | medium | hard
}

// VoteInfo 投票记录
type VoteInfo struct {
	From      int   `json:"from"`
	To        *int  `json:"to"` // nil 表示弃票
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ToastType 通知类型
type ToastType string

const (
	ToastSuccess ToastType = "success"
	ToastError   ToastType = "error"
	ToastWarning ToastType = "warning"
	ToastInfo    ToastType = "info"
)

// Toast 本地临时通知，不参与游戏状态
type Toast struct {
	ID       string    `json:"id"`
	Type     ToastType `json:"type"`
	Title    string    `json:"title"`
	Message  string    `json:"message,omitempty"`
	Duration int       `json:"duration,omitempty"` // 毫秒，0表示不自动移除
}
