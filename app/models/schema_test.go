package models

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

// Fields whose zero value is meaningful must not carry a gorm default, or
// gorm drops the zero on insert and the column default wins.
func TestMeaningfulZeroFieldsHaveNoDefault(t *testing.T) {
	cases := []struct {
		model  interface{}
		fields []string
	}{
		{&Policy{}, []string{"IsActive", "SharedUsers"}},
		{&Cohort{}, []string{"IsActive"}},
		{&UsageRecord{}, []string{"IsActive"}},
		{&SyncFailure{}, []string{"Transient"}},
		{&RadUserGroup{}, []string{"Priority"}},
	}
	for _, tc := range cases {
		s, err := schema.Parse(tc.model, &sync.Map{}, schema.NamingStrategy{})
		require.NoError(t, err)
		for _, name := range tc.fields {
			f := s.LookUpField(name)
			require.NotNil(t, f, "%s.%s", s.Name, name)
			assert.False(t, f.HasDefaultValue, "%s.%s", s.Name, name)
		}
	}
}
