package service

import (
	"errors"

	"github.com/cumulusfs/cumulus/models"
	"github.com/cumulusfs/cumulus/pkg/apperr"
	"github.com/cumulusfs/cumulus/repository"
	"github.com/cumulusfs/cumulus/utils"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserService interface {
	Register(username, email, password string) (*models.User, error)
	Login(email, password string) (string, *models.User, error)
	GetByID(id uuid.UUID) (*models.User, error)
	Search(query string) ([]*models.User, error)
}

type UserServiceImpl struct {
	db            *gorm.DB
	jwtSecret     string
	jwtExpireMins int
}

func NewUserService(db *gorm.DB, jwtSecret string, jwtExpireMins int) UserService {
	return &UserServiceImpl{db: db, jwtSecret: jwtSecret, jwtExpireMins: jwtExpireMins}
}

func (s *UserServiceImpl) Register(username, email, password string) (*models.User, error) {
	if username == "" || email == "" || password == "" {
		return nil, apperr.Invalid("username, email and password are required")
	}
	users := repository.NewUserRepository(s.db)
	if _, err := users.GetByEmail(email); err == nil {
		return nil, apperr.Conflict("email %s is already registered", email)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username: username,
		Email:    email,
		Password: string(hashed),
		Role:     models.RoleUser,
	}
	if err := users.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserServiceImpl) Login(email, password string) (string, *models.User, error) {
	user, err := repository.NewUserRepository(s.db).GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, apperr.Unauthorized("invalid credentials")
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", nil, apperr.Unauthorized("invalid credentials")
	}
	token, err := utils.GenerateToken(user.ID.String(), user.Role, s.jwtSecret, s.jwtExpireMins)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *UserServiceImpl) GetByID(id uuid.UUID) (*models.User, error) {
	user, err := repository.NewUserRepository(s.db).GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, err
	}
	return user, nil
}

func (s *UserServiceImpl) Search(query string) ([]*models.User, error) {
	if query == "" {
		return []*models.User{}, nil
	}
	return repository.NewUserRepository(s.db).Search(query)
}
