package repository

import (
	"github.com/cumulusfs/cumulus/models"

	"gorm.io/gorm"
)

type UserRepository interface {
	BaseRepository[models.User]
	GetByEmail(email string) (*models.User, error)
	GetByUsername(username string) (*models.User, error)
	Search(query string) ([]*models.User, error)
}

type UserRepositoryImpl struct {
	*BaseRepositoryImpl[models.User]
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &UserRepositoryImpl{
		BaseRepositoryImpl: NewBaseRepository[models.User](db),
		db:                 db,
	}
}

func (r *UserRepositoryImpl) GetByEmail(email string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepositoryImpl) GetByUsername(username string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Search 用户名/邮箱子串搜索，大小写不敏感
func (r *UserRepositoryImpl) Search(query string) ([]*models.User, error) {
	var users []*models.User
	pattern := "%" + query + "%"
	err := r.db.
		Where("LOWER(username) LIKE LOWER(?) OR LOWER(email) LIKE LOWER(?)", pattern, pattern).
		Find(&users).Error
	return users, err
}
