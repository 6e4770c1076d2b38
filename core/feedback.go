package core

import (
	"fmt"
	"time"
)

// 评分范围。
const (
	MinRating = 1
	MaxRating = 5
)

// FeedbackEvent 是一条不可变的用户反馈记录：显式评分或隐式点击。
// Rating 与 Clicked 至少一个非空；Rating 优先。
type FeedbackEvent struct {
	UserID    string    `json:"user_id"`
	ItemID    string    `json:"item_id"`
	Rating    *int      `json:"rating,omitempty"`
	Clicked   *bool     `json:"clicked,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RatingEvent 构造一条显式评分反馈。
func RatingEvent(userID, itemID string, rating int, ts time.Time) FeedbackEvent {
	r := rating
	return FeedbackEvent{UserID: userID, ItemID: itemID, Rating: &r, Timestamp: ts}
}

// ClickEvent 构造一条隐式点击反馈。
func ClickEvent(userID, itemID string, clicked bool, ts time.Time) FeedbackEvent {
	c := clicked
	return FeedbackEvent{UserID: userID, ItemID: itemID, Clicked: &c, Timestamp: ts}
}

// HasRating 是否带显式评分。
func (e FeedbackEvent) HasRating() bool { return e.Rating != nil }

// Validate 检查记录是否合法（评分越界、缺失字段等）。
func (e FeedbackEvent) Validate() error {
	if e.UserID == "" || e.ItemID == "" {
		return fmt.Errorf("%w: missing user or item id", ErrInvalidFeedback)
	}
	if e.Rating == nil && e.Clicked == nil {
		return fmt.Errorf("%w: item %s has neither rating nor click", ErrInvalidFeedback, e.ItemID)
	}
	if e.Rating != nil && (*e.Rating < MinRating || *e.Rating > MaxRating) {
		return fmt.Errorf("%w: rating %d out of range for item %s", ErrInvalidFeedback, *e.Rating, e.ItemID)
	}
	return nil
}

// DateRange 是闭开区间 [Start, End)。零值 End 表示不设上界。
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains 判断时间点是否落在区间内。
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// PreferenceVector 是用户偏好向量（L2 归一化）。Version 用于 CAS 写入。
// Version 为 0 表示存储中不存在。
type PreferenceVector struct {
	UserID    string    `json:"user_id"`
	Values    []float64 `json:"values"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}
