package session

import (
	"time"

	"github.com/patrickmn/go-cache"

	"storyscene/internal/model"
)

// Registry 最近运行结果的内存索引，按会话ID查找，过期自动清除
type Registry struct {
	c *cache.Cache
}

// NewRegistry 创建结果索引
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{c: cache.New(ttl, ttl*2)}
}

// Put 保存结果
func (r *Registry) Put(res *model.Result) {
	if res == nil || res.SessionID == "" {
		return
	}
	r.c.SetDefault(res.SessionID, res)
}

// Get 查找结果
func (r *Registry) Get(sessionID string) (*model.Result, bool) {
	v, ok := r.c.Get(sessionID)
	if !ok {
		return nil, false
	}
	res, ok := v.(*model.Result)
	return res, ok
}

// Delete 删除结果
func (r *Registry) Delete(sessionID string) {
	r.c.Delete(sessionID)
}

// Len 当前条目数
func (r *Registry) Len() int {
	return r.c.ItemCount()
}
