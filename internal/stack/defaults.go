package stack

import (
	"fmt"
	"time"
)

// Probe defaults used when a stack file omits the budgets.
const (
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
	DefaultProbeRetries  = 5
)

// DefaultStackName labels the built-in postgres/pgadmin stack.
const DefaultStackName = "devstack"

// Service and volume names in the built-in stack.
const (
	PostgresService = "postgres"
	PgAdminService  = "pgadmin"
	postgresVolume  = "devstack-postgres-data"
	pgadminVolume   = "devstack-pgadmin-data"
)

// PostgresEnv is the database half of the configuration surface. Every
// variable is optional; the defaults mirror the stock local setup.
type PostgresEnv struct {
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"12345678"`
	Database string `env:"POSTGRES_DB" envDefault:"postgres"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
}

// DSN builds the connection string the readiness probe dials.
func (e PostgresEnv) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@127.0.0.1:%d/%s?sslmode=disable",
		e.User, e.Password, e.Port, e.Database)
}

// PgAdminEnv is the admin-console half of the configuration surface.
type PgAdminEnv struct {
	Email    string `env:"PGADMIN_EMAIL" envDefault:"pgadmin4@pgadmin.org"`
	Password string `env:"PGADMIN_PASSWORD" envDefault:"12345678"`
	Port     int    `env:"PGADMIN_PORT" envDefault:"5050"`
}

// DefaultStack builds the built-in two-service stack: a PostgreSQL database
// and a pgAdmin console whose startup is gated on database health. Each
// service owns one named volume; the volumes are never shared.
func DefaultStack(pg PostgresEnv, admin PgAdminEnv) Stack {
	return Stack{
		Name: DefaultStackName,
		Volumes: []Volume{
			{Name: postgresVolume},
			{Name: pgadminVolume},
		},
		Services: []Service{
			{
				Name:  PostgresService,
				Image: "postgres:16-alpine",
				Env: map[string]string{
					"POSTGRES_USER":     pg.User,
					"POSTGRES_PASSWORD": pg.Password,
					"POSTGRES_DB":       pg.Database,
				},
				Ports:   []PortMapping{{Host: pg.Port, Container: 5432}},
				Mounts:  []Mount{{Volume: postgresVolume, Path: "/var/lib/postgresql/data"}},
				Restart: RestartUnlessStopped,
				Probe: &ProbeSpec{
					Type:     ProbePostgres,
					Target:   pg.DSN(),
					Interval: DefaultProbeInterval,
					Timeout:  DefaultProbeTimeout,
					Retries:  DefaultProbeRetries,
				},
			},
			{
				Name:  PgAdminService,
				Image: "dpage/pgadmin4:9",
				Env: map[string]string{
					"PGADMIN_DEFAULT_EMAIL":    admin.Email,
					"PGADMIN_DEFAULT_PASSWORD": admin.Password,
				},
				Ports:  []PortMapping{{Host: admin.Port, Container: 80}},
				Mounts: []Mount{{Volume: pgadminVolume, Path: "/var/lib/pgadmin"}},
				DependsOn: []Dependency{
					{Service: PostgresService, Condition: ConditionHealthy},
				},
				Restart: RestartUnlessStopped,
				Probe: &ProbeSpec{
					Type:     ProbeHTTP,
					Target:   fmt.Sprintf("http://127.0.0.1:%d/misc/ping", admin.Port),
					Interval: DefaultProbeInterval,
					Timeout:  DefaultProbeTimeout,
					Retries:  DefaultProbeRetries,
				},
			},
		},
	}
}
