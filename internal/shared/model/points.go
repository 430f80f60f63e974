package model

import "time"

// ============================================================================
// 枚举
// ============================================================================

// TransactionType 积分交易类型
type TransactionType string

const (
	TxEarned       TransactionType = "earned"       // 上架奖励等收入
	TxSpent        TransactionType = "spent"        // 消费
	TxAwarded      TransactionType = "awarded"      // 管理员发放
	TxDeducted     TransactionType = "deducted"     // 管理员扣减
	TxRefund       TransactionType = "refund"       // 冲正补偿
	TxBonus        TransactionType = "bonus"        // 活动奖励
	TxPenalty      TransactionType = "penalty"      // 违规处罚
	TxSwap         TransactionType = "swap"         // 积分兑换流转
	TxRegistration TransactionType = "registration" // 注册赠送
)

// TransactionTypes 所有合法交易类型
var TransactionTypes = []TransactionType{
	TxEarned, TxSpent, TxAwarded, TxDeducted, TxRefund,
	TxBonus, TxPenalty, TxSwap, TxRegistration,
}

// Valid 是否为合法交易类型
func (t TransactionType) Valid() bool {
	for _, v := range TransactionTypes {
		if t == v {
			return true
		}
	}
	return false
}

// TransactionStatus 交易状态
type TransactionStatus string

const (
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusReversed  TransactionStatus = "reversed"
)

// RefKind 账本引用的实体类型
type RefKind string

const (
	RefItem        RefKind = "item"
	RefSwap        RefKind = "swap"
	RefUser        RefKind = "user"
	RefTransaction RefKind = "transaction"
)

// Valid 是否为合法引用类型
func (k RefKind) Valid() bool {
	switch k {
	case RefItem, RefSwap, RefUser, RefTransaction:
		return true
	}
	return false
}

// Reference 账本交易指向的业务实体
type Reference struct {
	Kind RefKind `json:"kind" bson:"kind"`
	ID   string  `json:"id" bson:"id"`
}

// TransactionMetadata 交易附加信息
type TransactionMetadata struct {
	AdminID   string `json:"admin_id,omitempty" bson:"admin_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty" bson:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	Notes     string `json:"notes,omitempty" bson:"notes,omitempty"`
}

// ============================================================================
// PointsTransaction
// ============================================================================

// PointsTransaction 积分账本记录
//
// Amount 为有符号数（正为入账、负为出账），不允许为 0。
// BalanceAfter 为账本写入后的用户余额快照。
// 账本记录本身不可修改，冲正通过新的 refund 记录完成。
type PointsTransaction struct {
	ID     string          `json:"id" bson:"_id"`
	UserID string          `json:"user_id" bson:"user_id"`
	Type   TransactionType `json:"type" bson:"type"`
	Amount int             `json:"amount" bson:"amount"`
	Reason string          `json:"reason" bson:"reason"`

	BalanceAfter int `json:"balance_after" bson:"balance_after"`

	Reference *Reference           `json:"reference,omitempty" bson:"reference,omitempty"`
	Metadata  *TransactionMetadata `json:"metadata,omitempty" bson:"metadata,omitempty"`

	Status         TransactionStatus `json:"status" bson:"status"`
	ReversedAt     *time.Time        `json:"reversed_at,omitempty" bson:"reversed_at,omitempty"`
	ReversedBy     string            `json:"reversed_by,omitempty" bson:"reversed_by,omitempty"`
	ReversalReason string            `json:"reversal_reason,omitempty" bson:"reversal_reason,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// IsCredit 是否为入账
func (t *PointsTransaction) IsCredit() bool {
	return t.Amount > 0
}

// IsDebit 是否为出账
func (t *PointsTransaction) IsDebit() bool {
	return t.Amount < 0
}

// ============================================================================
// 统计
// ============================================================================

// PointsStats 单个用户的积分统计
type PointsStats struct {
	TotalEarned     int        `json:"total_earned"`
	TotalSpent      int        `json:"total_spent"`
	TransactionNum  int        `json:"transaction_count"`
	AverageAmount   float64    `json:"average_amount"`
	LastTransaction *time.Time `json:"last_transaction,omitempty"`
}

// DailyCount 按天聚合的计数（analytics 用）
type DailyCount struct {
	Date  string `json:"date" bson:"_id"`
	Count int    `json:"count" bson:"count"`
}
