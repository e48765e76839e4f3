package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"path"
)

// Store 是核心消费的窄接口。核心只在事务提交之后调用 Put/Delete，
// 所以这里的失败对应 TransientStorage 错误而不是回滚。
type Store interface {
	Put(ctx context.Context, objectPath string, data []byte) error
	Delete(ctx context.Context, objectPath string) error
	Open(ctx context.Context, objectPath string) (io.ReadCloser, error)
}

// ObjectPath 版本数据的存储位置：<bucket>/<key>_<versionID>
func ObjectPath(bucketName, key, versionID string) string {
	return path.Join(bucketName, key+"_"+versionID)
}

// ETag 内容哈希。在任何数据库行写入之前计算，取消是安全的。
func ETag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
