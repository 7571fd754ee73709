package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 会员角色枚举。Pharmacy 是账号的哨兵档案角色，代表“未选择具体员工”。
const (
	RolePharmacistInCharge = "Pharmacist-in-Charge"
	RolePharmacist         = "Pharmacist"
	RoleTechnician         = "Technician"
	RoleIntern             = "Intern"
	RolePharmacy           = "Pharmacy"
)

// 订阅状态枚举。
const (
	SubscriptionActive   = "active"
	SubscriptionInactive = "inactive"
)

// 培训状态枚举。
const (
	TrainingNotStarted = "not_started"
	TrainingInProgress = "in_progress"
	TrainingCompleted  = "completed"
)

// Account 表示一家已注册的药房（登录主体）。
type Account struct {
	gorm.Model
	Email              string `gorm:"uniqueIndex;size:255"`
	PasswordHash       string `gorm:"size:255"`
	PharmacyName       string `gorm:"size:255"`
	Phone              string `gorm:"size:64"`
	AddressLine        string `gorm:"size:255"`
	City               string `gorm:"size:128"`
	State              string `gorm:"size:64"`
	Zip                string `gorm:"size:16"`
	SubscriptionStatus string `gorm:"size:32;default:active"`

	Profiles []MemberProfile `gorm:"constraint:OnDelete:CASCADE"`
}

// MemberProfile 表示药房下的一名员工档案，活动归属的最小单位。
// AccountID 创建后不可变更。
type MemberProfile struct {
	gorm.Model
	AccountID uint   `gorm:"index;not null"`
	FirstName string `gorm:"size:128"`
	LastName  string `gorm:"size:128"`
	Role      string `gorm:"size:64"`
	Email     string `gorm:"size:255"`
	Phone     string `gorm:"size:64"`
	Active    bool   `gorm:"default:true;not null"`
}

// StorageFileCatalog 是资源文件目录：路径面向用户，ID 才是外键。
type StorageFileCatalog struct {
	gorm.Model
	Path        string `gorm:"uniqueIndex;size:512"`
	DisplayName string `gorm:"size:255"`
	ObjectKey   string `gorm:"size:512"`
	Category    string `gorm:"size:128"`
}

// TableName 与后端既有表名保持一致。
func (StorageFileCatalog) TableName() string {
	return "storage_files_catalog"
}

// Bookmark 是 (档案, 资源) 收藏对，二元组唯一。
type Bookmark struct {
	ID        uint `gorm:"primaryKey"`
	ProfileID uint `gorm:"uniqueIndex:idx_bookmark_profile_file;not null"`
	FileID    uint `gorm:"uniqueIndex:idx_bookmark_profile_file;not null"`
	CreatedAt time.Time

	File StorageFileCatalog `gorm:"foreignKey:FileID"`
}

// RecentActivity 是按档案追加的访问日志，无唯一约束。
type RecentActivity struct {
	ID           uint   `gorm:"primaryKey"`
	ProfileID    uint   `gorm:"index;not null"`
	ResourceName string `gorm:"size:255"`
	AccessedAt   time.Time
}

// TableName 与后端既有表名保持一致。
func (RecentActivity) TableName() string {
	return "recent_activity"
}

// TrainingModule 提供培训模块名称查询（joined select 用）。
type TrainingModule struct {
	ID        uint   `gorm:"primaryKey"`
	ModuleKey string `gorm:"uniqueIndex;size:128"`
	Title     string `gorm:"size:255"`
}

// MemberTrainingProgress 记录 (档案, 模块) 的培训进度，复合键唯一。
type MemberTrainingProgress struct {
	gorm.Model
	ProfileID            uint   `gorm:"uniqueIndex:idx_training_profile_module;not null"`
	ModuleKey            string `gorm:"uniqueIndex:idx_training_profile_module;size:128;not null"`
	CompletionPercentage int
	CompletionStatus     string `gorm:"size:32;default:not_started"`
	Attempts             int
	StartedAt            *time.Time
	CompletedAt          *time.Time
}

// TableName 与后端既有表名保持一致。
func (MemberTrainingProgress) TableName() string {
	return "member_training_progress"
}

// Announcement 是公告；AccountID 为空表示全局公告。
type Announcement struct {
	gorm.Model
	AccountID   *uint  `gorm:"index"`
	Title       string `gorm:"size:255"`
	Body        string `gorm:"type:text"`
	Metadata    datatypes.JSON
	PublishedAt time.Time
}

// AllModels 列出需要迁移的全部模型。
func AllModels() []any {
	return []any{
		&Account{},
		&MemberProfile{},
		&StorageFileCatalog{},
		&Bookmark{},
		&RecentActivity{},
		&TrainingModule{},
		&MemberTrainingProgress{},
		&Announcement{},
	}
}
