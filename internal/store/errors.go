package store

import (
	"errors"
	"fmt"
)

// ErrNotFound 表示查询的单行记录不存在。
var ErrNotFound = errors.New("record not found")

// SyncError 表示一次写操作（insert/update/delete/upsert）落库失败。
// 调用方必须保持本地缓存不变并将其原样上抛。
type SyncError struct {
	Op    string
	Table string
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func syncErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return &SyncError{Op: op, Table: table, Err: err}
}
