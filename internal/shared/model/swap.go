package model

import "time"

// ============================================================================
// 枚举与状态机
// ============================================================================

// SwapType 交换类型
type SwapType string

const (
	SwapTypeItemSwap         SwapType = "item_swap"         // 以物换物
	SwapTypePointsRedemption SwapType = "points_redemption" // 积分兑换
)

// Valid 是否为合法交换类型
func (t SwapType) Valid() bool {
	return t == SwapTypeItemSwap || t == SwapTypePointsRedemption
}

// SwapStatus 交换状态
type SwapStatus string

const (
	SwapStatusPending   SwapStatus = "pending"
	SwapStatusAccepted  SwapStatus = "accepted"
	SwapStatusCompleted SwapStatus = "completed"
	SwapStatusRejected  SwapStatus = "rejected"
	SwapStatusCancelled SwapStatus = "cancelled"
	SwapStatusExpired   SwapStatus = "expired"
)

// swapTransitions 状态机转移表，所有状态变更都必须经过 CanTransitionTo 校验
var swapTransitions = map[SwapStatus][]SwapStatus{
	SwapStatusPending:  {SwapStatusAccepted, SwapStatusRejected, SwapStatusCancelled, SwapStatusExpired},
	SwapStatusAccepted: {SwapStatusCompleted, SwapStatusCancelled},
}

// CanTransitionTo 当前状态能否转移到目标状态
func (s SwapStatus) CanTransitionTo(target SwapStatus) bool {
	for _, t := range swapTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Terminal 是否为终态
func (s SwapStatus) Terminal() bool {
	return len(swapTransitions[s]) == 0
}

// ============================================================================
// Swap
// ============================================================================

// Rating 完成后的互评，1-5 星
type Rating struct {
	Score   int       `json:"score" bson:"score"`
	Comment string    `json:"comment,omitempty" bson:"comment,omitempty"`
	RatedAt time.Time `json:"rated_at" bson:"rated_at"`
}

// SwapTimeline 生命周期时间戳
type SwapTimeline struct {
	RequestedAt time.Time  `json:"requested_at" bson:"requested_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty" bson:"responded_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
}

// Swap 交换请求
//
// 按类型区分的字段（tagged union）：
//   - item_swap：OfferedItemID + RequestedItemID
//   - points_redemption：RequestedItemID + PointsOffered
type Swap struct {
	ID   string   `json:"id" bson:"_id"`
	Type SwapType `json:"type" bson:"type"`

	InitiatorID string `json:"initiator_id" bson:"initiator_id"`
	RecipientID string `json:"recipient_id" bson:"recipient_id"`

	OfferedItemID   string `json:"offered_item_id,omitempty" bson:"offered_item_id,omitempty"`
	RequestedItemID string `json:"requested_item_id" bson:"requested_item_id"`
	PointsOffered   int    `json:"points_offered,omitempty" bson:"points_offered,omitempty"`

	Status SwapStatus `json:"status" bson:"status"`

	Message         string `json:"message,omitempty" bson:"message,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty" bson:"rejection_reason,omitempty"`

	Timeline  SwapTimeline `json:"timeline" bson:"timeline"`
	ExpiresAt time.Time    `json:"expires_at" bson:"expires_at"`

	InitiatorRating *Rating `json:"initiator_rating,omitempty" bson:"initiator_rating,omitempty"`
	RecipientRating *Rating `json:"recipient_rating,omitempty" bson:"recipient_rating,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// ItemIDs 本次交换涉及的全部物品 ID
func (s *Swap) ItemIDs() []string {
	ids := []string{s.RequestedItemID}
	if s.OfferedItemID != "" {
		ids = append(ids, s.OfferedItemID)
	}
	return ids
}

// IsParticipant 用户是否为交换双方之一
func (s *Swap) IsParticipant(userID string) bool {
	return s.InitiatorID == userID || s.RecipientID == userID
}

// IsExpired pending 状态下是否已超过有效期
func (s *Swap) IsExpired(now time.Time) bool {
	return s.Status == SwapStatusPending && now.After(s.ExpiresAt)
}

// ============================================================================
// 统计
// ============================================================================

// SwapStats 平台交换统计
type SwapStats struct {
	TotalSwaps     int                `json:"total_swaps"`
	CompletedSwaps int                `json:"completed_swaps"`
	PendingSwaps   int                `json:"pending_swaps"`
	CompletionRate float64            `json:"completion_rate"`
	ByStatus       map[SwapStatus]int `json:"by_status"`
	ByType         map[SwapType]int   `json:"by_type"`
}
