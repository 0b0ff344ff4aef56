package service

import (
	"context"

	"support-chat-go/pkg/es"
)

// SearchService 定义了消息全文检索的接口，供管理端使用。
type SearchService interface {
	SearchMessages(ctx context.Context, query string, size int) ([]es.SearchHit, error)
}

type searchService struct{}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService() SearchService {
	return &searchService{}
}

// SearchMessages 在消息索引上做全文检索。
func (s *searchService) SearchMessages(ctx context.Context, query string, size int) ([]es.SearchHit, error) {
	if size <= 0 || size > 100 {
		size = 20
	}
	return es.SearchMessages(ctx, query, size)
}
