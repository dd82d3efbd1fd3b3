package models

import "time"

// The rad* types map the standard FreeRADIUS SQL schema. Column names are
// fixed by the AAA server so every field carries an explicit column tag.

type RadCheck struct {
	ID        uint   `gorm:"column:id;primaryKey"`
	Username  string `gorm:"column:username;type:varchar(64);not null;default:'';index"`
	Attribute string `gorm:"column:attribute;type:varchar(64);not null;default:''"`
	Op        string `gorm:"column:op;type:char(2);not null;default:'=='"`
	Value     string `gorm:"column:value;type:varchar(253);not null;default:''"`
}

func (RadCheck) TableName() string { return "radcheck" }

type RadReply struct {
	ID        uint   `gorm:"column:id;primaryKey"`
	Username  string `gorm:"column:username;type:varchar(64);not null;default:'';index"`
	Attribute string `gorm:"column:attribute;type:varchar(64);not null;default:''"`
	Op        string `gorm:"column:op;type:char(2);not null;default:'='"`
	Value     string `gorm:"column:value;type:varchar(253);not null;default:''"`
}

func (RadReply) TableName() string { return "radreply" }

type RadGroupCheck struct {
	ID        uint   `gorm:"column:id;primaryKey"`
	GroupName string `gorm:"column:groupname;type:varchar(64);not null;default:'';index"`
	Attribute string `gorm:"column:attribute;type:varchar(64);not null;default:''"`
	Op        string `gorm:"column:op;type:char(2);not null;default:'=='"`
	Value     string `gorm:"column:value;type:varchar(253);not null;default:''"`
}

func (RadGroupCheck) TableName() string { return "radgroupcheck" }

type RadGroupReply struct {
	ID        uint   `gorm:"column:id;primaryKey"`
	GroupName string `gorm:"column:groupname;type:varchar(64);not null;default:'';index"`
	Attribute string `gorm:"column:attribute;type:varchar(64);not null;default:''"`
	Op        string `gorm:"column:op;type:char(2);not null;default:'='"`
	Value     string `gorm:"column:value;type:varchar(253);not null;default:''"`
}

func (RadGroupReply) TableName() string { return "radgroupreply" }

type RadUserGroup struct {
	ID        uint   `gorm:"column:id;primaryKey"`
	Username  string `gorm:"column:username;type:varchar(64);not null;default:'';index"`
	GroupName string `gorm:"column:groupname;type:varchar(64);not null;default:''"`
	Priority  int    `gorm:"column:priority;not null"`
}

func (RadUserGroup) TableName() string { return "radusergroup" }

// RadAcct is written by the AAA server only. A nil AcctStopTime marks an
// open session whose octet counters are updated by interim records.
type RadAcct struct {
	RadAcctID        int64      `gorm:"column:radacctid;primaryKey"`
	AcctSessionID    string     `gorm:"column:acctsessionid;type:varchar(64);not null;default:''"`
	AcctUniqueID     string     `gorm:"column:acctuniqueid;type:varchar(32);not null;default:'';uniqueIndex"`
	Username         string     `gorm:"column:username;type:varchar(64);not null;default:'';index"`
	NASIPAddress     string     `gorm:"column:nasipaddress;type:varchar(15);not null;default:''"`
	AcctStartTime    *time.Time `gorm:"column:acctstarttime"`
	AcctStopTime     *time.Time `gorm:"column:acctstoptime"`
	AcctSessionTime  int64      `gorm:"column:acctsessiontime"`
	AcctInputOctets  int64      `gorm:"column:acctinputoctets"`
	AcctOutputOctets int64      `gorm:"column:acctoutputoctets"`
	FramedIPAddress  string     `gorm:"column:framedipaddress;type:varchar(15);not null;default:''"`
}

func (RadAcct) TableName() string { return "radacct" }
