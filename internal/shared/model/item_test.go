package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputePointsValue(t *testing.T) {
	tests := []struct {
		name      string
		condition ItemCondition
		category  ItemCategory
		want      int
	}{
		{"全新吊牌", ConditionNewWithTags, CategoryTops, 20},
		{"近全新", ConditionLikeNew, CategoryOther, 18},
		{"优秀成色加正装加成", ConditionExcellent, CategoryFormal, 20},
		{"良好成色加外套加成", ConditionGood, CategoryOuterwear, 15},
		{"一般成色加鞋类加成", ConditionFair, CategoryShoes, 10},
		{"较差成色加连衣裙加成", ConditionPoor, CategoryDresses, 7},
		{"无加成类别", ConditionGood, CategoryVintage, 12},
		{"未知成色按默认分", ItemCondition("unknown"), CategoryTops, 10},
		{"未知成色加正装加成", ItemCondition(""), CategoryFormal, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputePointsValue(tt.condition, tt.category))
		})
	}
}

func TestComputePointsValueBounds(t *testing.T) {
	// 任意合法组合都应落在 [1, 100] 区间内
	for _, cond := range Conditions {
		for _, cat := range Categories {
			got := ComputePointsValue(cond, cat)
			assert.GreaterOrEqual(t, got, 1)
			assert.LessOrEqual(t, got, 100)
		}
	}
}

func TestItemCategoryValid(t *testing.T) {
	assert.True(t, CategoryTops.Valid())
	assert.True(t, CategoryVintage.Valid())
	assert.False(t, ItemCategory("hats").Valid())
	assert.False(t, ItemCategory("").Valid())
}

func TestItemSizeValid(t *testing.T) {
	assert.True(t, ItemSize("M").Valid())
	assert.True(t, ItemSize("One Size").Valid())
	assert.False(t, ItemSize("6XL").Valid())
	assert.False(t, ItemSize("one size").Valid())
}

func TestItemFavorites(t *testing.T) {
	item := &Item{Favorites: []string{"u1", "u2"}}

	assert.Equal(t, 2, item.FavoritesCount())
	assert.True(t, item.IsFavoritedBy("u1"))
	assert.False(t, item.IsFavoritedBy("u3"))
}

func TestItemHasReportFrom(t *testing.T) {
	item := &Item{Reports: []ItemReport{{UserID: "u1", Reason: ReportSpam}}}

	assert.True(t, item.HasReportFrom("u1"))
	assert.False(t, item.HasReportFrom("u2"))
}
