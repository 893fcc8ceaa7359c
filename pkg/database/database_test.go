package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{
			name: "postgres defaults",
			cfg:  Config{Driver: DriverPostgres, Host: "db", Port: 5432, User: "u", Password: "p", DBName: "chat"},
			want: "host=db port=5432 user=u password=p dbname=chat sslmode=disable TimeZone=UTC",
		},
		{
			name: "mysql",
			cfg:  Config{Driver: DriverMySQL, Host: "db", Port: 3306, User: "u", Password: "p", DBName: "chat"},
			want: "u:p@tcp(db:3306)/chat?charset=utf8mb4&parseTime=True&loc=UTC",
		},
		{
			name: "sqlite",
			cfg:  Config{Driver: DriverSQLite, FilePath: "chat.db"},
			want: "chat.db",
		},
		{name: "sqlite without path", cfg: Config{Driver: DriverSQLite}, wantErr: true},
		{name: "unknown driver", cfg: Config{Driver: "oracle"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.DSN()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNewSQLiteInMemory(t *testing.T) {
	req := require.New(t)

	db, err := New(&Config{Driver: DriverSQLite, FilePath: "file::memory:", MaxOpenConns: 1})
	req.NoError(err)
	defer Close(db)

	type probe struct {
		ID   uint
		Name string
	}
	req.NoError(AutoMigrate(db, &probe{}))
	req.NoError(db.Create(&probe{Name: "x"}).Error)

	var count int64
	req.NoError(db.Model(&probe{}).Count(&count).Error)
	req.Equal(int64(1), count)
}
