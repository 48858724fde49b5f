// Package store persists sites, aliases, locations, users and
// permissions, the source of truth behind the per-site cache.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gatewarden/gatewarden/pkg/config"
)

// SiteData is everything the cache needs to materialize one site
// snapshot: the site row plus all of its dependent rows, loaded in a
// single pass.
type SiteData struct {
	Site        Site
	Aliases     []Alias
	Locations   []Location
	Users       []User
	Permissions []Permission
}

// Store provides persistence for access control resources.
//
// Every method that mutates a site's data increments the site's
// modification counter within the same transaction, so a cached
// snapshot can never observe new data under a stale counter.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Sites.
	CreateSite(ctx context.Context, site *Site) error
	GetSite(ctx context.Context, siteID string) (*Site, error)
	GetSiteVersion(ctx context.Context, siteID string) (int64, error)
	DeleteSite(ctx context.Context, siteID string) error
	GetSiteData(ctx context.Context, siteID string) (*SiteData, error)

	// Aliases.
	CreateAlias(ctx context.Context, siteID, url string) (*Alias, error)
	ListAliases(ctx context.Context, siteID string) ([]Alias, error)
	FindSiteByAlias(ctx context.Context, url string) (string, error)
	DeleteAlias(ctx context.Context, siteID string, id uint) error

	// Locations.
	CreateLocation(ctx context.Context, siteID, path string) (*Location, error)
	GetLocation(ctx context.Context, siteID, locationUUID string) (*Location, error)
	ListLocations(ctx context.Context, siteID string) ([]Location, error)
	SetOpenAccess(ctx context.Context, siteID, locationUUID, mode string) error
	DeleteLocation(ctx context.Context, siteID, locationUUID string) error

	// Users.
	CreateUser(ctx context.Context, siteID, email string) (*User, error)
	GetUser(ctx context.Context, siteID, userUUID string) (*User, error)
	GetUserByEmail(ctx context.Context, siteID, email string) (*User, error)
	ListUsers(ctx context.Context, siteID string) ([]User, error)
	DeleteUser(ctx context.Context, siteID, userUUID string) error

	// Permissions. Grant is idempotent: granting an existing edge
	// returns it with created=false.
	GrantPermission(
		ctx context.Context, siteID, locationUUID, userUUID string,
	) (*Permission, bool, error)
	GetPermission(
		ctx context.Context, siteID, locationUUID, userUUID string,
	) (*Permission, error)
	RevokePermission(
		ctx context.Context, siteID, locationUUID, userUUID string,
	) error
	ListLocationUsers(
		ctx context.Context, siteID, locationUUID string,
	) ([]User, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log    logrus.FieldLogger
	cfg    *config.DatabaseConfig
	limits config.LimitsConfig
	db     *gorm.DB
}

// NewStore creates a new Store backed by the configured database
// driver, with the given default per-site resource ceilings.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
	limits config.LimitsConfig,
) Store {
	return &store{
		log:    log.WithField("component", "store"),
		cfg:    cfg,
		limits: limits,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Site{},
		&Alias{},
		&Location{},
		&User{},
		&Permission{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// translate maps gorm errors to the store's sentinel errors.
func translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// mutate runs fn inside a transaction that first bumps the site's
// modification counter. Bumping and mutating as one unit guarantees
// that no cached snapshot validated against the old counter can span
// the new data.
func (s *store) mutate(
	ctx context.Context, siteID string, fn func(tx *gorm.DB) error,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Site{}).
			Where("site_id = ?", siteID).
			UpdateColumn("mod_id", gorm.Expr("mod_id + 1"))
		if res.Error != nil {
			return fmt.Errorf("bumping site version: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		return fn(tx)
	})
}

// --- Sites ---

func (s *store) CreateSite(ctx context.Context, site *Site) error {
	return translate(
		s.db.WithContext(ctx).Create(site).Error, "creating site")
}

func (s *store) GetSite(
	ctx context.Context, siteID string,
) (*Site, error) {
	var site Site
	if err := s.db.WithContext(ctx).
		First(&site, "site_id = ?", siteID).Error; err != nil {
		return nil, translate(err, "getting site")
	}

	return &site, nil
}

func (s *store) GetSiteVersion(
	ctx context.Context, siteID string,
) (int64, error) {
	var site Site
	if err := s.db.WithContext(ctx).
		Select("site_id", "mod_id").
		First(&site, "site_id = ?", siteID).Error; err != nil {
		return 0, translate(err, "getting site version")
	}

	return site.ModID, nil
}

// DeleteSite removes a site and all of its aliases, locations, users
// and permissions.
func (s *store) DeleteSite(ctx context.Context, siteID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&Site{}, "site_id = ?", siteID)
		if res.Error != nil {
			return translate(res.Error, "deleting site")
		}

		if res.RowsAffected == 0 {
			return fmt.Errorf("deleting site: %w", ErrNotFound)
		}

		for _, m := range []any{
			&Permission{}, &Location{}, &User{}, &Alias{},
		} {
			if err := tx.Where("site_id = ?", siteID).
				Delete(m).Error; err != nil {
				return translate(err, "deleting site data")
			}
		}

		return nil
	})
}

func (s *store) GetSiteData(
	ctx context.Context, siteID string,
) (*SiteData, error) {
	data := &SiteData{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&data.Site, "site_id = ?", siteID).Error; err != nil {
			return translate(err, "getting site")
		}

		if err := tx.Where("site_id = ?", siteID).
			Find(&data.Aliases).Error; err != nil {
			return translate(err, "listing aliases")
		}

		if err := tx.Where("site_id = ?", siteID).
			Order("path ASC").
			Find(&data.Locations).Error; err != nil {
			return translate(err, "listing locations")
		}

		if err := tx.Where("site_id = ?", siteID).
			Order("id ASC").
			Find(&data.Users).Error; err != nil {
			return translate(err, "listing users")
		}

		if err := tx.Where("site_id = ?", siteID).
			Find(&data.Permissions).Error; err != nil {
			return translate(err, "listing permissions")
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// --- Aliases ---

func (s *store) CreateAlias(
	ctx context.Context, siteID, url string,
) (*Alias, error) {
	alias := &Alias{SiteID: siteID, URL: url}

	err := s.mutate(ctx, siteID, func(tx *gorm.DB) error {
		_, limit, err := s.siteLimit(tx, siteID, "aliases")
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&Alias{}).
			Where("site_id = ?", siteID).
			Count(&count).Error; err != nil {
			return translate(err, "counting aliases")
		}

		if count >= int64(limit) {
			return fmt.Errorf("can't create more aliases: %w", ErrLimitExceeded)
		}

		return translate(tx.Create(alias).Error, "creating alias")
	})
	if err != nil {
		return nil, err
	}

	return alias, nil
}

func (s *store) ListAliases(
	ctx context.Context, siteID string,
) ([]Alias, error) {
	var aliases []Alias
	if err := s.db.WithContext(ctx).
		Where("site_id = ?", siteID).
		Order("id ASC").
		Find(&aliases).Error; err != nil {
		return nil, translate(err, "listing aliases")
	}

	return aliases, nil
}

func (s *store) FindSiteByAlias(
	ctx context.Context, url string,
) (string, error) {
	var alias Alias
	if err := s.db.WithContext(ctx).
		First(&alias, "url = ?", url).Error; err != nil {
		return "", translate(err, "finding site by alias")
	}

	return alias.SiteID, nil
}

func (s *store) DeleteAlias(
	ctx context.Context, siteID string, id uint,
) error {
	return s.mutate(ctx, siteID, func(tx *gorm.DB) error {
		res := tx.Where("site_id = ?", siteID).Delete(&Alias{}, id)
		if res.Error != nil {
			return translate(res.Error, "deleting alias")
		}

		if res.RowsAffected == 0 {
			return fmt.Errorf("deleting alias: %w", ErrNotFound)
		}

		return nil
	})
}

// --- Locations ---

func (s *store) CreateLocation(
	ctx context.Context, siteID, path string,
) (*Location, error) {
	location := &Location{
		UUID:       uuid.NewString(),
		SiteID:     siteID,
		Path:       path,
		OpenAccess: OpenAccessDisabled,
	}

	err := s.mutate(ctx, siteID, func(tx *gorm.DB) error {
		_, limit, err := s.siteLimit(tx, siteID, "locations")
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&Location{}).
			Where("site_id = ?", siteID).
			Count(&count).Error; err != nil {
			return translate(err, "counting locations")
		}

		if count >= int64(limit) {
			return fmt.Errorf(
				"can't create more locations: %w", ErrLimitExceeded)
		}

		return translate(tx.Create(location).Error, "creating location")
	})
	if err != nil {
		return nil, err
	}

	return location, nil
}

func (s *store) GetLocation(
	ctx context.Context, siteID, locationUUID string,
) (*Location, error) {
	var location Location
	if err := s.db.WithContext(ctx).
		First(&location, "site_id = ? AND uuid = ?",
			siteID, locationUUID).Error; err != nil {
		return nil, translate(err, "getting location")
	}

	return &location, nil
}

func (s *store) ListLocations(
	ctx context.Context, siteID string,
) ([]Location, error) {
	var locations []Location
	if err := s.db.WithContext(ctx).
		Where("site_id = ?", siteID).
		Order("path ASC").
		Find(&locations).Error; err != nil {
		return nil, translate(err, "listing locations")
	}

	return locations, nil
}

func (s *store) SetOpenAccess(
	ctx context.Context, siteID, locationUUID, mode string,
) error {
	switch mode {
	case OpenAccessDisabled, OpenAccessNoLogin, OpenAccessWithLogin:
	default:
		return fmt.Errorf("invalid open access mode: %q", mode)
	}

	return s.mutate(ctx, siteID, func(tx *gorm.DB) error {
		res := tx.Model(&Location{}).
			Where("site_id = ? AND uuid = ?", siteID, locationUUID).
			Update("open_access", mode)
		if res.Error != nil {
			return translate(res.Error, "setting open access")
		}

		if res.RowsAffected == 0 {
			return fmt.Errorf("setting open access: %w", ErrNotFound)
		}

		return nil
	})
}

// DeleteLocation removes a location and all permissions granted on it.
func (s *store) DeleteLocation(
	ctx context.Context, siteID, locationUUID string,
) error {
	return s.mutate(ctx, siteID, func(tx *gorm.DB) error {
		var location Location
		if err := tx.First(&location, "site_id = ? AND uuid = ?",
			siteID, locationUUID).Error; err != nil {
			return translate(err, "getting location")
		}

		if err := tx.Where("location_id = ?", location.ID).
			Delete(&Permission{}).Error; err != nil {
			return translate(err, "deleting location permissions")
		}

		return translate(
			tx.Delete(&Location{}, location.ID).Error, "deleting location")
	})
}

// --- Users ---

func (s *store) CreateUser(
	ctx context.Context, siteID, email string,
) (*User, error) {
	user := &User{
		UUID:   uuid.NewString(),
		SiteID: siteID,
		Email:  email,
	}

	err := s.mutate(ctx, siteID, func(tx *gorm.DB) error {
		_, limit, err := s.siteLimit(tx, siteID, "users")
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&User{}).
			Where("site_id = ?", siteID).
			Count(&count).Error; err != nil {
			return translate(err, "counting users")
		}

		if count >= int64(limit) {
			return fmt.Errorf("can't create more users: %w", ErrLimitExceeded)
		}

		return translate(tx.Create(user).Error, "creating user")
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (s *store) GetUser(
	ctx context.Context, siteID, userUUID string,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		First(&user, "site_id = ? AND uuid = ?",
			siteID, userUUID).Error; err != nil {
		return nil, translate(err, "getting user")
	}

	return &user, nil
}

func (s *store) GetUserByEmail(
	ctx context.Context, siteID, email string,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		First(&user, "site_id = ? AND email = ?",
			siteID, email).Error; err != nil {
		return nil, translate(err, "getting user by email")
	}

	return &user, nil
}

func (s *store) ListUsers(
	ctx context.Context, siteID string,
) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).
		Where("site_id = ?", siteID).
		Order("id ASC").
		Find(&users).Error; err != nil {
		return nil, translate(err, "listing users")
	}

	return users, nil
}

// DeleteUser removes a user and all permissions granted to them.
func (s *store) DeleteUser(
	ctx context.Context, siteID, userUUID string,
) error {
	return s.mutate(ctx, siteID, func(tx *gorm.DB) error {
		var user User
		if err := tx.First(&user, "site_id = ? AND uuid = ?",
			siteID, userUUID).Error; err != nil {
			return translate(err, "getting user")
		}

		if err := tx.Where("user_id = ?", user.ID).
			Delete(&Permission{}).Error; err != nil {
			return translate(err, "deleting user permissions")
		}

		return translate(tx.Delete(&User{}, user.ID).Error, "deleting user")
	})
}

// --- Permissions ---

func (s *store) GrantPermission(
	ctx context.Context, siteID, locationUUID, userUUID string,
) (*Permission, bool, error) {
	var (
		permission Permission
		created    bool
	)

	err := s.mutate(ctx, siteID, func(tx *gorm.DB) error {
		location, user, err := findEdge(tx, siteID, locationUUID, userUUID)
		if err != nil {
			return err
		}

		err = tx.First(&permission,
			"location_id = ? AND user_id = ?", location.ID, user.ID).Error
		if err == nil {
			return nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return translate(err, "getting permission")
		}

		permission = Permission{
			SiteID:     siteID,
			LocationID: location.ID,
			UserID:     user.ID,
		}
		created = true

		return translate(tx.Create(&permission).Error, "creating permission")
	})
	if err != nil {
		return nil, false, err
	}

	return &permission, created, nil
}

func (s *store) GetPermission(
	ctx context.Context, siteID, locationUUID, userUUID string,
) (*Permission, error) {
	var permission Permission

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		location, user, err := findEdge(tx, siteID, locationUUID, userUUID)
		if err != nil {
			return err
		}

		return translate(tx.First(&permission,
			"location_id = ? AND user_id = ?",
			location.ID, user.ID).Error, "getting permission")
	})
	if err != nil {
		return nil, err
	}

	return &permission, nil
}

func (s *store) RevokePermission(
	ctx context.Context, siteID, locationUUID, userUUID string,
) error {
	return s.mutate(ctx, siteID, func(tx *gorm.DB) error {
		location, user, err := findEdge(tx, siteID, locationUUID, userUUID)
		if err != nil {
			return err
		}

		res := tx.Where("location_id = ? AND user_id = ?",
			location.ID, user.ID).Delete(&Permission{})
		if res.Error != nil {
			return translate(res.Error, "revoking permission")
		}

		if res.RowsAffected == 0 {
			return fmt.Errorf("revoking permission: %w", ErrNotFound)
		}

		return nil
	})
}

func (s *store) ListLocationUsers(
	ctx context.Context, siteID, locationUUID string,
) ([]User, error) {
	var users []User

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var location Location
		if err := tx.First(&location, "site_id = ? AND uuid = ?",
			siteID, locationUUID).Error; err != nil {
			return translate(err, "getting location")
		}

		return translate(tx.
			Joins("JOIN permissions ON permissions.user_id = users.id").
			Where("permissions.location_id = ?", location.ID).
			Order("users.id ASC").
			Find(&users).Error, "listing location users")
	})
	if err != nil {
		return nil, err
	}

	return users, nil
}

// findEdge resolves the location and user endpoints of a permission
// edge, both scoped to the same site.
func findEdge(
	tx *gorm.DB, siteID, locationUUID, userUUID string,
) (*Location, *User, error) {
	var location Location
	if err := tx.First(&location, "site_id = ? AND uuid = ?",
		siteID, locationUUID).Error; err != nil {
		return nil, nil, translate(err, "getting location")
	}

	var user User
	if err := tx.First(&user, "site_id = ? AND uuid = ?",
		siteID, userUUID).Error; err != nil {
		return nil, nil, translate(err, "getting user")
	}

	return &location, &user, nil
}

// siteLimit returns the site row and the effective ceiling for the
// given resource kind (the site override or the configured default).
func (s *store) siteLimit(
	tx *gorm.DB, siteID, kind string,
) (*Site, int, error) {
	var site Site
	if err := tx.First(&site, "site_id = ?", siteID).Error; err != nil {
		return nil, 0, translate(err, "getting site")
	}

	limit := 0

	switch kind {
	case "users":
		limit = site.UsersLimit
		if limit == 0 {
			limit = s.limits.UsersPerSite
		}
	case "locations":
		limit = site.LocationsLimit
		if limit == 0 {
			limit = s.limits.LocationsPerSite
		}
	case "aliases":
		limit = site.AliasesLimit
		if limit == 0 {
			limit = s.limits.AliasesPerSite
		}
	}

	return &site, limit, nil
}
