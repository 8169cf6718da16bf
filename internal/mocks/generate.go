// Package mocks provides gomock implementations of the core ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	cache := mocks.NewMockCacheRepository(ctrl)
//	cache.EXPECT().Get(gomock.Any(), "task:result:{face_swap:1}").Return(nil, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/target/taskrelay/internal/core CacheRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=task_archive_repository_mock.go github.com/target/taskrelay/internal/core TaskArchiveRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=pub_sub_mock.go github.com/target/taskrelay/internal/core PubSub
