package database

import "gorm.io/gorm"

// Transaction 把一个复合操作包进单个事务：fn 返回错误时整体回滚，
// 不会留下部分写入。blob 副作用必须在提交之后再执行。
func Transaction[T any](db *gorm.DB, fn func(tx *gorm.DB) (T, error)) (T, error) {
	var out T
	err := db.Transaction(func(tx *gorm.DB) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
