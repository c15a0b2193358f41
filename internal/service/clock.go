package service

import (
	"time"

	"github.com/GHS01/chikitita-sub002/internal/model"
)

// Clock 时间源，"今天" 的唯一来源
type Clock interface {
	Now() time.Time
}

// SystemClock 使用系统时间（UTC）
type SystemClock struct{}

// Now 实现 Clock
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// today 返回 loc 时区下的今日零点
func today(c Clock, loc *time.Location) time.Time {
	return model.StartOfDay(c.Now(), loc)
}
