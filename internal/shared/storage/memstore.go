package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"rewear/internal/shared/model"
)

// MemStore 内存实现，测试用
//
// 所有读写都在互斥锁内完成，返回的对象均为副本，
// 调用方修改返回值不会影响存储内容。
type MemStore struct {
	mu sync.RWMutex

	users map[string]*model.User
	items map[string]*model.Item
	swaps map[string]*model.Swap
	txs   map[string]*model.PointsTransaction
}

// NewMemStore 创建内存存储
func NewMemStore() *MemStore {
	return &MemStore{
		users: make(map[string]*model.User),
		items: make(map[string]*model.Item),
		swaps: make(map[string]*model.Swap),
		txs:   make(map[string]*model.PointsTransaction),
	}
}

// Close 实现 Store 接口，无资源可释放
func (s *MemStore) Close(ctx context.Context) error { return nil }

func copyUser(u *model.User) *model.User {
	c := *u
	return &c
}

func copyItem(i *model.Item) *model.Item {
	c := *i
	c.Favorites = append([]string(nil), i.Favorites...)
	c.Reports = append([]model.ItemReport(nil), i.Reports...)
	c.Images = append([]model.Image(nil), i.Images...)
	c.Tags = append([]string(nil), i.Tags...)
	return &c
}

func copySwap(sw *model.Swap) *model.Swap {
	c := *sw
	return &c
}

func copyTx(t *model.PointsTransaction) *model.PointsTransaction {
	c := *t
	return &c
}

func paginate[T any](list []T, page, limit int) []T {
	if limit <= 0 {
		return list
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(list) {
		return nil
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	return list[start:end]
}

// ============================================================================
// UserStore
// ============================================================================

func (s *MemStore) CreateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return ErrDuplicate
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) || strings.EqualFold(u.Username, user.Username) {
			return ErrDuplicate
		}
	}
	s.users[user.ID] = copyUser(user)
	return nil
}

func (s *MemStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) GetUserByResetToken(ctx context.Context, tokenHash string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.PasswordResetToken != "" && u.PasswordResetToken == tokenHash {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) ListUsers(ctx context.Context, filter UserFilter) ([]*model.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.User
	q := strings.ToLower(filter.Search)
	for _, u := range s.users {
		if filter.ActiveOnly && !u.IsActive {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(u.Username), q) &&
			!strings.Contains(strings.ToLower(u.FirstName), q) &&
			!strings.Contains(strings.ToLower(u.LastName), q) {
			continue
		}
		matched = append(matched, copyUser(u))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	return paginate(matched, filter.Page, filter.Limit), total, nil
}

func (s *MemStore) UpdateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	c := copyUser(user)
	// 余额字段只能走 UpdateUserPoints
	c.Points = cur.Points
	c.Version = cur.Version
	s.users[user.ID] = c
	return nil
}

func (s *MemStore) UpdateUserPoints(ctx context.Context, id string, points int, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	if u.Version != expectedVersion {
		return ErrConflict
	}
	u.Points = points
	u.Version++
	u.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) UserStats(ctx context.Context) (*model.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &model.UserStats{}
	for _, u := range s.users {
		stats.TotalUsers++
		if u.IsActive {
			stats.ActiveUsers++
		}
		stats.TotalPoints += u.Points
	}
	if stats.TotalUsers > 0 {
		stats.AveragePoints = float64(stats.TotalPoints) / float64(stats.TotalUsers)
	}
	return stats, nil
}

func (s *MemStore) CountUsersSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.users {
		if u.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) DailySignups(ctx context.Context, since time.Time) ([]model.DailyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byDay := map[string]int{}
	for _, u := range s.users {
		if u.CreatedAt.After(since) {
			byDay[u.CreatedAt.Format("2006-01-02")]++
		}
	}
	return dailyCounts(byDay), nil
}

func dailyCounts(byDay map[string]int) []model.DailyCount {
	out := make([]model.DailyCount, 0, len(byDay))
	for d, n := range byDay {
		out = append(out, model.DailyCount{Date: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// ============================================================================
// ItemStore
// ============================================================================

func (s *MemStore) CreateItem(ctx context.Context, item *model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return ErrDuplicate
	}
	s.items[item.ID] = copyItem(item)
	return nil
}

func (s *MemStore) GetItem(ctx context.Context, id string) (*model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyItem(i), nil
}

func matchItem(i *model.Item, f ItemFilter) bool {
	if f.Status != "" && i.Status != f.Status {
		return false
	}
	if f.Category != "" && i.Category != f.Category {
		return false
	}
	if f.Size != "" && i.Size != f.Size {
		return false
	}
	if f.Condition != "" && i.Condition != f.Condition {
		return false
	}
	if f.OwnerID != "" && i.OwnerID != f.OwnerID {
		return false
	}
	if f.MinPoints > 0 && i.PointsValue < f.MinPoints {
		return false
	}
	if f.MaxPoints > 0 && i.PointsValue > f.MaxPoints {
		return false
	}
	if f.Featured != nil && i.Featured != *f.Featured {
		return false
	}
	if f.Reported && len(i.Reports) == 0 {
		return false
	}
	if f.FavoritedBy != "" && !i.IsFavoritedBy(f.FavoritedBy) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		hay := strings.ToLower(i.Title + " " + i.Description + " " + i.Brand + " " + strings.Join(i.Tags, " "))
		if !strings.Contains(hay, q) {
			return false
		}
	}
	return true
}

func (s *MemStore) ListItems(ctx context.Context, filter ItemFilter) ([]*model.Item, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.Item
	for _, i := range s.items {
		if matchItem(i, filter) {
			matched = append(matched, copyItem(i))
		}
	}
	sortItems(matched, filter.Sort)
	total := len(matched)
	return paginate(matched, filter.Page, filter.Limit), total, nil
}

func sortItems(items []*model.Item, key string) {
	less := func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) }
	switch key {
	case "oldest":
		less = func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) }
	case "points_asc":
		less = func(i, j int) bool { return items[i].PointsValue < items[j].PointsValue }
	case "points_desc":
		less = func(i, j int) bool { return items[i].PointsValue > items[j].PointsValue }
	case "most_viewed":
		less = func(i, j int) bool { return items[i].Views > items[j].Views }
	}
	sort.SliceStable(items, less)
}

func (s *MemStore) UpdateItem(ctx context.Context, item *model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return ErrNotFound
	}
	s.items[item.ID] = copyItem(item)
	return nil
}

func (s *MemStore) SetItemStatus(ctx context.Context, id string, status model.ItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	i.Status = status
	i.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) TransitionItemStatus(ctx context.Context, id string, from, to model.ItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if i.Status != from {
		return ErrConflict
	}
	i.Status = to
	i.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) IncrementItemViews(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	i.Views++
	return nil
}

func (s *MemStore) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *MemStore) ItemStats(ctx context.Context) (*model.ItemStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &model.ItemStats{}
	sum := 0
	for _, i := range s.items {
		stats.TotalItems++
		sum += i.PointsValue
		switch i.Status {
		case model.ItemStatusAvailable:
			stats.AvailableItems++
		case model.ItemStatusSwapped:
			stats.SwappedItems++
		}
	}
	if stats.TotalItems > 0 {
		stats.AvgPointsValue = float64(sum) / float64(stats.TotalItems)
	}
	return stats, nil
}

func (s *MemStore) CategoryStats(ctx context.Context) ([]model.CategoryStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := map[model.ItemCategory]int{}
	points := map[model.ItemCategory]int{}
	for _, i := range s.items {
		count[i.Category]++
		points[i.Category] += i.PointsValue
	}
	out := make([]model.CategoryStat, 0, len(count))
	for c, n := range count {
		out = append(out, model.CategoryStat{
			Category:  c,
			Count:     n,
			AvgPoints: float64(points[c]) / float64(n),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

func (s *MemStore) CountItemsSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, i := range s.items {
		if i.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) CountItemsByStatus(ctx context.Context, status model.ItemStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, i := range s.items {
		if i.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) CountReportedItems(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, i := range s.items {
		if len(i.Reports) > 0 {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) DailyUploads(ctx context.Context, since time.Time) ([]model.DailyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byDay := map[string]int{}
	for _, i := range s.items {
		if i.CreatedAt.After(since) {
			byDay[i.CreatedAt.Format("2006-01-02")]++
		}
	}
	return dailyCounts(byDay), nil
}

// ============================================================================
// SwapStore
// ============================================================================

func (s *MemStore) CreateSwap(ctx context.Context, swap *model.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.swaps[swap.ID]; ok {
		return ErrDuplicate
	}
	s.swaps[swap.ID] = copySwap(swap)
	return nil
}

func (s *MemStore) GetSwap(ctx context.Context, id string) (*model.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sw, ok := s.swaps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySwap(sw), nil
}

func (s *MemStore) ListSwaps(ctx context.Context, filter SwapFilter) ([]*model.Swap, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.Swap
	for _, sw := range s.swaps {
		if filter.UserID != "" && !sw.IsParticipant(filter.UserID) {
			continue
		}
		if filter.Status != "" && sw.Status != filter.Status {
			continue
		}
		if filter.Type != "" && sw.Type != filter.Type {
			continue
		}
		matched = append(matched, copySwap(sw))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	return paginate(matched, filter.Page, filter.Limit), total, nil
}

func (s *MemStore) UpdateSwap(ctx context.Context, swap *model.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.swaps[swap.ID]
	if !ok {
		return ErrNotFound
	}
	// 状态与时间线只能走 TransitionSwap
	cur.Message = swap.Message
	cur.RejectionReason = swap.RejectionReason
	cur.InitiatorRating = swap.InitiatorRating
	cur.RecipientRating = swap.RecipientRating
	cur.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) TransitionSwap(ctx context.Context, id string, from, to model.SwapStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, ok := s.swaps[id]
	if !ok {
		return ErrNotFound
	}
	if sw.Status != from {
		return ErrConflict
	}
	sw.Status = to
	applyTimeline(sw, to, at)
	sw.UpdatedAt = at
	return nil
}

// applyTimeline 按目标状态落对应的时间线字段
func applyTimeline(sw *model.Swap, to model.SwapStatus, at time.Time) {
	switch to {
	case model.SwapStatusAccepted, model.SwapStatusRejected:
		sw.Timeline.RespondedAt = &at
	case model.SwapStatusCompleted:
		sw.Timeline.CompletedAt = &at
	case model.SwapStatusCancelled, model.SwapStatusExpired:
		sw.Timeline.CancelledAt = &at
	}
}

func (s *MemStore) HasOpenSwapForItem(ctx context.Context, itemID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sw := range s.swaps {
		if sw.Status != model.SwapStatusPending && sw.Status != model.SwapStatusAccepted {
			continue
		}
		for _, id := range sw.ItemIDs() {
			if id == itemID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *MemStore) ListExpiredPendingSwaps(ctx context.Context, now time.Time, limit int) ([]*model.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Swap
	for _, sw := range s.swaps {
		if sw.IsExpired(now) {
			out = append(out, copySwap(sw))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemStore) SwapStats(ctx context.Context) (*model.SwapStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &model.SwapStats{
		ByStatus: map[model.SwapStatus]int{},
		ByType:   map[model.SwapType]int{},
	}
	for _, sw := range s.swaps {
		stats.TotalSwaps++
		stats.ByStatus[sw.Status]++
		stats.ByType[sw.Type]++
	}
	stats.CompletedSwaps = stats.ByStatus[model.SwapStatusCompleted]
	stats.PendingSwaps = stats.ByStatus[model.SwapStatusPending]
	if stats.TotalSwaps > 0 {
		stats.CompletionRate = float64(stats.CompletedSwaps) / float64(stats.TotalSwaps)
	}
	return stats, nil
}

func (s *MemStore) CountSwapsSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sw := range s.swaps {
		if sw.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) DailySwaps(ctx context.Context, since time.Time) ([]model.DailyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byDay := map[string]int{}
	for _, sw := range s.swaps {
		if sw.CreatedAt.After(since) {
			byDay[sw.CreatedAt.Format("2006-01-02")]++
		}
	}
	return dailyCounts(byDay), nil
}

// ============================================================================
// PointsStore
// ============================================================================

func (s *MemStore) CreateTransaction(ctx context.Context, tx *model.PointsTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; ok {
		return ErrDuplicate
	}
	s.txs[tx.ID] = copyTx(tx)
	return nil
}

func (s *MemStore) GetTransaction(ctx context.Context, id string) (*model.PointsTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTx(tx), nil
}

func (s *MemStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*model.PointsTransaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.PointsTransaction
	for _, tx := range s.txs {
		if filter.UserID != "" && tx.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.From != nil && tx.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && tx.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, copyTx(tx))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	return paginate(matched, filter.Page, filter.Limit), total, nil
}

func (s *MemStore) MarkTransactionReversed(ctx context.Context, id string, by, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return ErrNotFound
	}
	tx.Status = model.TxStatusReversed
	tx.ReversedAt = &at
	tx.ReversedBy = by
	tx.ReversalReason = reason
	return nil
}

func (s *MemStore) PointsStats(ctx context.Context, userID string) (*model.PointsStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &model.PointsStats{}
	sum := 0
	for _, tx := range s.txs {
		if tx.UserID != userID {
			continue
		}
		stats.TransactionNum++
		sum += tx.Amount
		if tx.Amount > 0 {
			stats.TotalEarned += tx.Amount
		} else {
			stats.TotalSpent += -tx.Amount
		}
		if stats.LastTransaction == nil || tx.CreatedAt.After(*stats.LastTransaction) {
			t := tx.CreatedAt
			stats.LastTransaction = &t
		}
	}
	if stats.TransactionNum > 0 {
		stats.AverageAmount = float64(sum) / float64(stats.TransactionNum)
	}
	return stats, nil
}

func (s *MemStore) ListRecentTransactions(ctx context.Context, limit int) ([]*model.PointsTransaction, error) {
	list, _, err := s.ListTransactions(ctx, TransactionFilter{Page: 1, Limit: limit})
	return list, err
}
