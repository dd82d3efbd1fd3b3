package aaa

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/attrmap"
	"gorm.io/gorm"
)

const totalsBatchSize = 500

// GormStore implements Store on the FreeRADIUS SQL schema
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store on db
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStore, op, err)
}

func (s *GormStore) GroupAttributes(ctx context.Context, group string) (attrmap.AttributeSet, error) {
	set, err := loadGroup(s.db.WithContext(ctx), group)
	if err != nil {
		return nil, storeErr("load group "+group, err)
	}
	return set, nil
}

func loadGroup(tx *gorm.DB, group string) (attrmap.AttributeSet, error) {
	var replies []models.RadGroupReply
	if err := tx.Where("groupname = ?", group).Order("id ASC").Find(&replies).Error; err != nil {
		return nil, err
	}
	var checks []models.RadGroupCheck
	if err := tx.Where("groupname = ?", group).Order("id ASC").Find(&checks).Error; err != nil {
		return nil, err
	}
	set := make(attrmap.AttributeSet, 0, len(replies)+len(checks))
	for _, r := range replies {
		set = append(set, attrmap.Attribute{Name: r.Attribute, Op: attrmap.Operator(r.Op), Value: r.Value, Source: attrmap.SourceGroupReply})
	}
	for _, c := range checks {
		set = append(set, attrmap.Attribute{Name: c.Attribute, Op: attrmap.Operator(c.Op), Value: c.Value, Source: attrmap.SourceGroupCheck})
	}
	return set, nil
}

// ReconcileGroup diffs the stored group rows against target and applies only
// the difference inside one transaction.
func (s *GormStore) ReconcileGroup(ctx context.Context, group string, target attrmap.AttributeSet) (attrmap.Diff, error) {
	var diff attrmap.Diff
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadGroup(tx, group)
		if err != nil {
			return err
		}
		diff = attrmap.ComputeDiff(current, target)
		for _, a := range diff.Delete {
			if err := tx.Where("groupname = ? AND attribute = ?", group, a.Name).Delete(groupRow(a.Source)).Error; err != nil {
				return err
			}
		}
		for _, a := range diff.Update {
			if err := tx.Model(groupRow(a.Source)).
				Where("groupname = ? AND attribute = ?", group, a.Name).
				Updates(map[string]interface{}{"op": string(a.Op), "value": a.Value}).Error; err != nil {
				return err
			}
		}
		for _, a := range diff.Insert {
			if err := tx.Create(newGroupRow(group, a)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return attrmap.Diff{}, storeErr("reconcile group "+group, err)
	}
	return diff, nil
}

func groupRow(src attrmap.Source) interface{} {
	if src == attrmap.SourceGroupCheck {
		return &models.RadGroupCheck{}
	}
	return &models.RadGroupReply{}
}

func newGroupRow(group string, a attrmap.Attribute) interface{} {
	if a.Source == attrmap.SourceGroupCheck {
		return &models.RadGroupCheck{GroupName: group, Attribute: a.Name, Op: string(a.Op), Value: a.Value}
	}
	return &models.RadGroupReply{GroupName: group, Attribute: a.Name, Op: string(a.Op), Value: a.Value}
}

func loadUserChecks(tx *gorm.DB, username string) (attrmap.AttributeSet, error) {
	var rows []models.RadCheck
	if err := tx.Where("username = ? AND attribute IN ?", username, attrmap.ManagedUserCheckNames).
		Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	set := make(attrmap.AttributeSet, 0, len(rows))
	for _, r := range rows {
		set = append(set, attrmap.Attribute{Name: r.Attribute, Op: attrmap.Operator(r.Op), Value: r.Value, Source: attrmap.SourceUserCheck})
	}
	return set, nil
}

// ReconcileUser leaves unmanaged check rows and all group rows untouched.
func (s *GormStore) ReconcileUser(ctx context.Context, username, group string, checks attrmap.AttributeSet) (UserChange, error) {
	var change UserChange
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var memberships []models.RadUserGroup
		if err := tx.Where("username = ?", username).Find(&memberships).Error; err != nil {
			return err
		}
		if len(memberships) != 1 || memberships[0].GroupName != group {
			if err := tx.Where("username = ?", username).Delete(&models.RadUserGroup{}).Error; err != nil {
				return err
			}
			if err := tx.Create(&models.RadUserGroup{Username: username, GroupName: group, Priority: 1}).Error; err != nil {
				return err
			}
			change.GroupChanged = true
		}

		current, err := loadUserChecks(tx, username)
		if err != nil {
			return err
		}
		change.Checks = attrmap.ComputeDiff(current, checks)
		for _, a := range change.Checks.Delete {
			if err := tx.Where("username = ? AND attribute = ?", username, a.Name).Delete(&models.RadCheck{}).Error; err != nil {
				return err
			}
		}
		for _, a := range change.Checks.Update {
			if err := tx.Model(&models.RadCheck{}).
				Where("username = ? AND attribute = ?", username, a.Name).
				Updates(map[string]interface{}{"op": string(a.Op), "value": a.Value}).Error; err != nil {
				return err
			}
		}
		for _, a := range change.Checks.Insert {
			if err := tx.Create(&models.RadCheck{Username: username, Attribute: a.Name, Op: string(a.Op), Value: a.Value}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return UserChange{}, storeErr("reconcile user "+username, err)
	}
	return change, nil
}

func (s *GormStore) SetCredentialEnabled(ctx context.Context, username string, enabled bool) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("username = ? AND attribute = ?", username, attrmap.AttrAuthType).
			Delete(&models.RadCheck{}).Error; err != nil {
			return err
		}
		if enabled {
			return nil
		}
		return tx.Create(&models.RadCheck{
			Username:  username,
			Attribute: attrmap.AttrAuthType,
			Op:        string(attrmap.OpSet),
			Value:     attrmap.AuthTypeReject,
		}).Error
	})
	if err != nil {
		return storeErr("set credential state for "+username, err)
	}
	return nil
}

func (s *GormStore) RemoveUser(ctx context.Context, username string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range []interface{}{&models.RadCheck{}, &models.RadReply{}, &models.RadUserGroup{}} {
			if err := tx.Where("username = ?", username).Delete(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storeErr("remove user "+username, err)
	}
	return nil
}

func (s *GormStore) UserGroup(ctx context.Context, username string) (string, error) {
	var rows []models.RadUserGroup
	if err := s.db.WithContext(ctx).Where("username = ?", username).
		Order("priority ASC").Limit(1).Find(&rows).Error; err != nil {
		return "", storeErr("load membership of "+username, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].GroupName, nil
}

type totalRow struct {
	Username string
	Total    int64
}

// LifetimeTotals reads all requested users in batches. Users without
// accounting rows are absent from the result.
func (s *GormStore) LifetimeTotals(ctx context.Context, usernames []string) (map[string]int64, error) {
	totals := make(map[string]int64, len(usernames))
	for i := 0; i < len(usernames); i += totalsBatchSize {
		end := i + totalsBatchSize
		if end > len(usernames) {
			end = len(usernames)
		}
		var rows []totalRow
		err := s.db.WithContext(ctx).Model(&models.RadAcct{}).
			Select("username, COALESCE(SUM(acctinputoctets + acctoutputoctets), 0) AS total").
			Where("username IN ?", usernames[i:end]).
			Group("username").
			Scan(&rows).Error
		if err != nil {
			return nil, storeErr("sum accounting", err)
		}
		for _, r := range rows {
			totals[r.Username] = r.Total
		}
	}
	return totals, nil
}
