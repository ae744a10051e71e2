// internal/services/user_service.go
package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/StoryboardForge/internal/errors"
	"github.com/Corphon/StoryboardForge/internal/models"
	"github.com/Corphon/StoryboardForge/internal/storage"
)

const usersDir = "users"

// UserService 用户资料、等级与用量配额
type UserService struct {
	Storage *storage.FileStorage

	// 用量计数在进程内串行化，避免读-改-写竞态
	usageMutex sync.Mutex
}

// NewUserService 创建用户服务
func NewUserService(fileStorage *storage.FileStorage) *UserService {
	return &UserService{Storage: fileStorage}
}

// CreateUser 创建用户，等级默认为 free
func (s *UserService) CreateUser(username, email string, tier models.UserTier) (*models.User, error) {
	if username == "" {
		return nil, apperrors.NewValidationError("用户名不能为空", nil)
	}
	if tier == "" {
		tier = models.TierFree
	}

	now := time.Now()
	user := &models.User{
		ID:         uuid.New().String(),
		Username:   username,
		Email:      email,
		Tier:       tier,
		Usage:      make(map[string]int),
		CreatedAt:  now,
		LastActive: now,
	}

	if err := s.saveUser(user); err != nil {
		return nil, apperrors.NewProcessingError("保存用户失败", err)
	}

	return user, nil
}

// GetUser 加载用户
func (s *UserService) GetUser(userID string) (*models.User, error) {
	if userID == "" {
		return nil, apperrors.NewValidationError("用户ID不能为空", nil)
	}

	var user models.User
	if err := s.Storage.LoadJSONFile(usersDir, userFilename(userID), &user); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("用户不存在: %s", userID), err)
	}

	return &user, nil
}

// UpdatePreferences 更新用户个性化设置
func (s *UserService) UpdatePreferences(userID string, prefs models.UserPreferences) (*models.User, error) {
	user, err := s.GetUser(userID)
	if err != nil {
		return nil, err
	}

	user.Preferences = prefs
	user.LastActive = time.Now()

	if err := s.saveUser(user); err != nil {
		return nil, apperrors.NewProcessingError("保存用户失败", err)
	}

	return user, nil
}

// UpgradeTier 调整用户等级
func (s *UserService) UpgradeTier(userID string, tier models.UserTier) (*models.User, error) {
	if tier != models.TierFree && tier != models.TierPro {
		return nil, apperrors.NewValidationError(fmt.Sprintf("未知的用户等级: %s", tier), nil)
	}

	user, err := s.GetUser(userID)
	if err != nil {
		return nil, err
	}

	user.Tier = tier
	if err := s.saveUser(user); err != nil {
		return nil, apperrors.NewProcessingError("保存用户失败", err)
	}

	return user, nil
}

// CheckSceneQuota 校验剧本场景数是否在等级上限内
func (s *UserService) CheckSceneQuota(userID string, sceneCount int) error {
	user, err := s.GetUser(userID)
	if err != nil {
		return err
	}

	quota := models.QuotaFor(user.Tier)
	if sceneCount > quota.MaxScenesPerScript {
		return apperrors.NewQuotaError(
			fmt.Sprintf("场景数 %d 超过等级上限 %d", sceneCount, quota.MaxScenesPerScript), nil)
	}
	return nil
}

// CheckShotQuota 校验单场景镜头数是否在等级上限内
func (s *UserService) CheckShotQuota(userID string, shotCount int) error {
	user, err := s.GetUser(userID)
	if err != nil {
		return err
	}

	quota := models.QuotaFor(user.Tier)
	if shotCount > quota.MaxShotsPerScene {
		return apperrors.NewQuotaError(
			fmt.Sprintf("镜头数 %d 超过等级上限 %d", shotCount, quota.MaxShotsPerScene), nil)
	}
	return nil
}

// ConsumeGenerationQuota 预扣当日生成额度，额度耗尽返回配额错误
func (s *UserService) ConsumeGenerationQuota(userID string, count int) error {
	s.usageMutex.Lock()
	defer s.usageMutex.Unlock()

	user, err := s.GetUser(userID)
	if err != nil {
		return err
	}

	quota := models.QuotaFor(user.Tier)
	key := models.UsageKey(time.Now())

	if user.Usage == nil {
		user.Usage = make(map[string]int)
	}
	if user.Usage[key]+count > quota.MaxGenerationsDaily {
		return apperrors.NewQuotaError(
			fmt.Sprintf("当日生成额度不足: 已用 %d/%d", user.Usage[key], quota.MaxGenerationsDaily), nil)
	}

	user.Usage[key] += count
	user.LastActive = time.Now()

	if err := s.saveUser(user); err != nil {
		return apperrors.NewProcessingError("保存用户失败", err)
	}
	return nil
}

// GetDailyUsage 查询用户当日已用生成次数
func (s *UserService) GetDailyUsage(userID string) (int, int, error) {
	user, err := s.GetUser(userID)
	if err != nil {
		return 0, 0, err
	}

	quota := models.QuotaFor(user.Tier)
	return user.Usage[models.UsageKey(time.Now())], quota.MaxGenerationsDaily, nil
}

func (s *UserService) saveUser(user *models.User) error {
	return s.Storage.SaveJSONFile(usersDir, userFilename(user.ID), user)
}

func userFilename(userID string) string {
	return userID + ".json"
}
