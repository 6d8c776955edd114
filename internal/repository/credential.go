package repository

import (
	"context"
	"errors"

	apperrors "github.com/wfunc/werewolf-client/internal/errors"
	"github.com/wfunc/werewolf-client/internal/models"
	"gorm.io/gorm"
)

// CredentialRepository 登录凭证仓储接口
type CredentialRepository interface {
	// Save 保存凭证，已有凭证被原地覆盖（本地只保留一份）
	Save(ctx context.Context, cred *models.Credential) error
	// Load 读取当前凭证，没有凭证时返回 (nil, nil)
	Load(ctx context.Context) (*models.Credential, error)
	// Clear 清除凭证
	Clear(ctx context.Context) error
}

// credentialRepository 凭证仓储实现
type credentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository 创建凭证仓储
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

// Save 保存凭证
func (r *credentialRepository) Save(ctx context.Context, cred *models.Credential) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 旧凭证直接清掉，保证表中始终只有一行
		if err := tx.Where("1 = 1").Delete(&models.Credential{}).Error; err != nil {
			return err
		}
		cred.ID = 0
		return tx.Create(cred).Error
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseWrite, "保存凭证失败")
	}
	return nil
}

// Load 读取当前凭证
func (r *credentialRepository) Load(ctx context.Context) (*models.Credential, error) {
	var cred models.Credential
	err := r.db.WithContext(ctx).Order("updated_at DESC").First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取凭证失败")
	}
	return &cred, nil
}

// Clear 清除凭证
func (r *credentialRepository) Clear(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.Credential{}).Error; err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseWrite, "清除凭证失败")
	}
	return nil
}
