package store

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

// Store 是核心各组件消费的远端存储网关（请求/响应，窄接口）。
// 实现只做行级读写与映射，不承载业务规则。
type Store interface {
	// accounts
	CredentialsByEmail(ctx context.Context, email string) (accountID uint, passwordHash string, err error)
	AccountByID(ctx context.Context, id uint) (*Account, error)
	UpdateAccount(ctx context.Context, id uint, patch AccountPatch) (*Account, error)

	// member_profiles
	ProfilesByAccount(ctx context.Context, accountID uint) ([]Profile, error)
	ProfileByID(ctx context.Context, id uint) (*Profile, error)
	InsertProfile(ctx context.Context, p NewProfile) (*Profile, error)
	UpdateProfile(ctx context.Context, id uint, patch ProfilePatch) (*Profile, error)
	DeleteProfile(ctx context.Context, id uint) error

	// storage_files_catalog
	ResourceByPath(ctx context.Context, path string) (*Resource, error)
	Resources(ctx context.Context) ([]Resource, error)

	// bookmarks（按 (profile_id, file_id) 键）
	BookmarksWithResources(ctx context.Context, profileID uint) ([]BookmarkEntry, error)
	InsertBookmark(ctx context.Context, profileID, fileID uint) error
	DeleteBookmark(ctx context.Context, profileID, fileID uint) error

	// recent_activity（只追加）
	InsertActivity(ctx context.Context, profileID uint, resourceName string, accessedAt time.Time) error
	RecentActivity(ctx context.Context, profileID uint, limit int) ([]ActivityEntry, error)
	TrimActivity(ctx context.Context, profileID uint, keep int) error

	// member_training_progress（(profile_id, module_key) 复合键 upsert）
	TrainingProgress(ctx context.Context, profileID uint, moduleKey string) (*TrainingProgress, error)
	TrainingProgressByProfile(ctx context.Context, profileID uint) ([]TrainingProgress, error)
	UpsertTrainingStart(ctx context.Context, profileID uint, moduleKey string, now time.Time) (*TrainingProgress, error)
	UpsertTrainingRestart(ctx context.Context, profileID uint, moduleKey string, now time.Time) (*TrainingProgress, error)
	UpsertTrainingProgress(ctx context.Context, profileID uint, moduleKey string, percentage int, status string, completedAt *time.Time) (*TrainingProgress, error)

	// announcements
	Announcements(ctx context.Context, accountID uint, limit int) ([]Announcement, error)
}

// Account 是面向业务层的药房账号视图（不含口令哈希）。
type Account struct {
	ID                 uint
	Email              string
	PharmacyName       string
	Phone              string
	AddressLine        string
	City               string
	State              string
	Zip                string
	SubscriptionStatus string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AccountPatch 描述账号的部分更新，nil 字段保持原值。
type AccountPatch struct {
	PharmacyName *string
	Phone        *string
	AddressLine  *string
	City         *string
	State        *string
	Zip          *string
}

// Profile 是员工档案视图。
type Profile struct {
	ID        uint
	AccountID uint
	FirstName string
	LastName  string
	Role      string
	Email     string
	Phone     string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewProfile 描述待创建的员工档案。
type NewProfile struct {
	AccountID uint
	FirstName string
	LastName  string
	Role      string
	Email     string
	Phone     string
}

// ProfilePatch 描述档案的部分更新，nil 字段保持原值。
type ProfilePatch struct {
	FirstName *string
	LastName  *string
	Role      *string
	Email     *string
	Phone     *string
	Active    *bool
}

// Resource 是目录中的一个资源文件；CatalogID 才是收藏行使用的外键。
type Resource struct {
	CatalogID   uint
	Path        string
	DisplayName string
	ObjectKey   string
	Category    string
}

// BookmarkEntry 是收藏行与资源目录 join 后的结果。
type BookmarkEntry struct {
	FileID      uint
	Path        string
	DisplayName string
	CreatedAt   time.Time
}

// ActivityEntry 是一条资源访问日志。
type ActivityEntry struct {
	ID           uint
	ProfileID    uint
	ResourceName string
	AccessedAt   time.Time
}

// TrainingProgress 是 (档案, 培训模块) 的进度视图，含模块名称。
type TrainingProgress struct {
	ProfileID            uint
	ModuleKey            string
	ModuleTitle          string
	CompletionPercentage int
	CompletionStatus     string
	Attempts             int
	StartedAt            *time.Time
	CompletedAt          *time.Time
}

// Announcement 是一条公告。
type Announcement struct {
	ID          uint
	Title       string
	Body        string
	Metadata    datatypes.JSON
	PublishedAt time.Time
}
