package database

import "podcast-fusion/app/model"

func AutoMigrate() error {
	// 自动迁移表结构
	return DB.AutoMigrate(
		&model.Feed{},
		&model.Episode{},
		&model.Transcript{},
		&model.Summary{},
		&model.Task{},
	)
}
