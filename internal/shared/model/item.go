// Package model 定义核心数据模型
//
// item.go 包含物品相关的数据模型定义：
//   - Item：物品（社区挂牌的衣物）
//   - ItemCategory / ItemSize / ItemCondition：封闭枚举
//   - ItemStatus：物品状态机
//   - ComputePointsValue：根据成色和类别计算积分价值
package model

import "time"

// ============================================================================
// 枚举
// ============================================================================

// ItemCategory 物品类别
type ItemCategory string

const (
	CategoryTops        ItemCategory = "tops"
	CategoryBottoms     ItemCategory = "bottoms"
	CategoryDresses     ItemCategory = "dresses"
	CategoryOuterwear   ItemCategory = "outerwear"
	CategoryShoes       ItemCategory = "shoes"
	CategoryAccessories ItemCategory = "accessories"
	CategoryActivewear  ItemCategory = "activewear"
	CategorySleepwear   ItemCategory = "sleepwear"
	CategoryFormal      ItemCategory = "formal"
	CategoryVintage     ItemCategory = "vintage"
	CategoryOther       ItemCategory = "other"
)

// Categories 所有合法类别（列表接口返回顺序）
var Categories = []ItemCategory{
	CategoryTops, CategoryBottoms, CategoryDresses, CategoryOuterwear,
	CategoryShoes, CategoryAccessories, CategoryActivewear,
	CategorySleepwear, CategoryFormal, CategoryVintage, CategoryOther,
}

// Valid 是否为合法类别
func (c ItemCategory) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// ItemSize 物品尺码
type ItemSize string

// Sizes 所有合法尺码
var Sizes = []ItemSize{
	"XXS", "XS", "S", "M", "L", "XL", "XXL", "3XL", "4XL", "5XL", "One Size",
}

// Valid 是否为合法尺码
func (s ItemSize) Valid() bool {
	for _, v := range Sizes {
		if s == v {
			return true
		}
	}
	return false
}

// ItemCondition 物品成色
type ItemCondition string

const (
	ConditionNewWithTags ItemCondition = "new_with_tags"
	ConditionLikeNew     ItemCondition = "like_new"
	ConditionExcellent   ItemCondition = "excellent"
	ConditionGood        ItemCondition = "good"
	ConditionFair        ItemCondition = "fair"
	ConditionPoor        ItemCondition = "poor"
)

// Conditions 所有合法成色
var Conditions = []ItemCondition{
	ConditionNewWithTags, ConditionLikeNew, ConditionExcellent,
	ConditionGood, ConditionFair, ConditionPoor,
}

// Valid 是否为合法成色
func (c ItemCondition) Valid() bool {
	for _, v := range Conditions {
		if c == v {
			return true
		}
	}
	return false
}

// ItemStatus 物品状态
type ItemStatus string

const (
	ItemStatusAvailable       ItemStatus = "available"
	ItemStatusPendingApproval ItemStatus = "pending_approval"
	ItemStatusRequested       ItemStatus = "requested"
	ItemStatusSwapped         ItemStatus = "swapped"
	ItemStatusWithdrawn       ItemStatus = "withdrawn"
	ItemStatusRejected        ItemStatus = "rejected"
)

// ReportReason 举报原因
type ReportReason string

const (
	ReportInappropriate ReportReason = "inappropriate"
	ReportSpam          ReportReason = "spam"
	ReportFake          ReportReason = "fake"
	ReportOther         ReportReason = "other"
)

// Valid 是否为合法举报原因
func (r ReportReason) Valid() bool {
	switch r {
	case ReportInappropriate, ReportSpam, ReportFake, ReportOther:
		return true
	}
	return false
}

// ============================================================================
// Item
// ============================================================================

// Image 存储对象引用：Key 为对象存储中的 key，URL 为外部可访问地址
type Image struct {
	Key string `json:"key" bson:"key"`
	URL string `json:"url" bson:"url"`
	Alt string `json:"alt,omitempty" bson:"alt,omitempty"`
}

// ItemReport 用户对物品的举报，一个用户只能举报一次
type ItemReport struct {
	UserID      string       `json:"user_id" bson:"user_id"`
	Reason      ReportReason `json:"reason" bson:"reason"`
	Description string       `json:"description,omitempty" bson:"description,omitempty"`
	ReportedAt  time.Time    `json:"reported_at" bson:"reported_at"`
}

// Measurements 物品尺寸信息
type Measurements struct {
	Chest  float64 `json:"chest,omitempty" bson:"chest,omitempty"`
	Waist  float64 `json:"waist,omitempty" bson:"waist,omitempty"`
	Length float64 `json:"length,omitempty" bson:"length,omitempty"`
	Inseam float64 `json:"inseam,omitempty" bson:"inseam,omitempty"`
	Notes  string  `json:"notes,omitempty" bson:"notes,omitempty"`
}

// Item 社区挂牌物品
//
// 状态机：
//
//	pending_approval --approve--> available --swap create--> requested
//	pending_approval --reject---> rejected
//	requested --complete--> swapped
//	requested --reject/cancel/expire--> available
//	available --owner withdraw--> withdrawn
type Item struct {
	ID          string        `json:"id" bson:"_id"`
	Title       string        `json:"title" bson:"title"`
	Description string        `json:"description" bson:"description"`
	Category    ItemCategory  `json:"category" bson:"category"`
	Type        string        `json:"type,omitempty" bson:"type,omitempty"`
	Size        ItemSize      `json:"size" bson:"size"`
	Condition   ItemCondition `json:"condition" bson:"condition"`
	Brand       string        `json:"brand,omitempty" bson:"brand,omitempty"`
	Color       string        `json:"color,omitempty" bson:"color,omitempty"`
	Material    string        `json:"material,omitempty" bson:"material,omitempty"`
	Tags        []string      `json:"tags,omitempty" bson:"tags,omitempty"`

	Images  []Image `json:"images" bson:"images"`
	OwnerID string  `json:"owner_id" bson:"owner_id"`

	Status      ItemStatus `json:"status" bson:"status"`
	PointsValue int        `json:"points_value" bson:"points_value"`

	Measurements *Measurements `json:"measurements,omitempty" bson:"measurements,omitempty"`

	Views     int          `json:"views" bson:"views"`
	Favorites []string     `json:"favorites" bson:"favorites"` // user IDs
	Reports   []ItemReport `json:"reports,omitempty" bson:"reports,omitempty"`

	ModerationNotes string     `json:"moderation_notes,omitempty" bson:"moderation_notes,omitempty"`
	ModeratedBy     string     `json:"moderated_by,omitempty" bson:"moderated_by,omitempty"`
	ModeratedAt     *time.Time `json:"moderated_at,omitempty" bson:"moderated_at,omitempty"`

	Featured      bool       `json:"featured" bson:"featured"`
	FeaturedUntil *time.Time `json:"featured_until,omitempty" bson:"featured_until,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// FavoritesCount 收藏数
func (i *Item) FavoritesCount() int {
	return len(i.Favorites)
}

// IsFavoritedBy 用户是否已收藏
func (i *Item) IsFavoritedBy(userID string) bool {
	for _, id := range i.Favorites {
		if id == userID {
			return true
		}
	}
	return false
}

// HasReportFrom 用户是否已举报过
func (i *Item) HasReportFrom(userID string) bool {
	for _, r := range i.Reports {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// ============================================================================
// 积分价值计算
// ============================================================================

// 成色基础分
var conditionPoints = map[ItemCondition]int{
	ConditionNewWithTags: 20,
	ConditionLikeNew:     18,
	ConditionExcellent:   15,
	ConditionGood:        12,
	ConditionFair:        8,
	ConditionPoor:        5,
}

// 类别加成
var categoryBonus = map[ItemCategory]int{
	CategoryFormal:    5,
	CategoryOuterwear: 3,
	CategoryShoes:     2,
	CategoryDresses:   2,
}

// ComputePointsValue 在创建物品时计算积分价值
//
// 规则：成色基础分（未知成色按 10 计）+ 类别加成，结果限制在 [1, 100]。
// 例如 excellent + formal = 15 + 5 = 20。
func ComputePointsValue(condition ItemCondition, category ItemCategory) int {
	points, ok := conditionPoints[condition]
	if !ok {
		points = 10
	}
	points += categoryBonus[category]

	if points > 100 {
		points = 100
	}
	if points < 1 {
		points = 1
	}
	return points
}

// ============================================================================
// 统计
// ============================================================================

// ItemStats 平台物品统计
type ItemStats struct {
	TotalItems     int     `json:"total_items"`
	AvailableItems int     `json:"available_items"`
	SwappedItems   int     `json:"swapped_items"`
	AvgPointsValue float64 `json:"avg_points_value"`
}

// CategoryStat 单个类别的统计
type CategoryStat struct {
	Category  ItemCategory `json:"category" bson:"_id"`
	Count     int          `json:"count" bson:"count"`
	AvgPoints float64      `json:"avg_points" bson:"avg_points"`
}
