package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-squad/internal/app"
	"quiz-squad/internal/domain"
	amqpbroker "quiz-squad/internal/infra/amqp"
	"quiz-squad/internal/infra/postgres"
	pgmigrations "quiz-squad/internal/infra/postgres/migrations"
	infraredis "quiz-squad/internal/infra/redis"
	"quiz-squad/internal/pubsub"
)

func TestProfilesEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	profiles := app.NewProfileService(postgres.NewProfileStore(pool), nil)

	// before migrations the store reports missing tables structurally
	ranking, err := profiles.Ranking(ctx, 10)
	if !errors.Is(err, domain.ErrSetupRequired) || len(ranking) != 0 {
		t.Fatalf("expected empty ranking with ErrSetupRequired, got %v %v", ranking, err)
	}

	migrateDB(t, ctx, pgURL)

	store := postgres.NewProfileStore(pool)
	for _, p := range []domain.Profile{{ID: "u1", Name: "Alice"}, {ID: "u2", Name: "Bob"}} {
		if _, err := store.UpsertProfile(ctx, p); err != nil {
			t.Fatalf("upsert %s: %v", p.ID, err)
		}
	}
	if err := profiles.AddFriend(ctx, "u1", "u2"); err != nil {
		t.Fatalf("add friend: %v", err)
	}
	friends, err := profiles.Friends(ctx, "u2")
	if err != nil || len(friends) != 1 || friends[0].ID != "u1" {
		t.Fatalf("expected mutual friendship, got %+v (%v)", friends, err)
	}

	if err := profiles.RecordResult(ctx, "u2", 300, true); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := profiles.RecordResult(ctx, "u1", 100, false); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := profiles.RecordResult(ctx, "guest-x", 900, true); err != nil {
		t.Fatalf("guest result should be skipped, got %v", err)
	}
	ranking, err = profiles.Ranking(ctx, 10)
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if len(ranking) != 2 || ranking[0].ID != "u2" || ranking[0].Score != 300 || ranking[0].Wins != 1 {
		t.Fatalf("unexpected ranking %+v", ranking)
	}
}

func TestQuestionBankEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()
	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	loader := postgres.NewQuestionLoader(pool)
	q := domain.StoryNode{
		Text:               "Qual personagem tem a habilidade Chrono?",
		Choices:            []string{"Alok", "Chrono", "Kelly", "Hayato"},
		CorrectAnswerIndex: 1,
	}
	if err := loader.SaveQuestion(ctx, "Free Fire", q); err != nil {
		t.Fatalf("save: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()
	bank := infraredis.NewQuestionBank(redisClient, loader, 5*time.Minute)
	service := app.NewQuestionService(nil, bank, time.Second, nil)

	got, err := service.GenerateQuestion(ctx, domain.QuestionRequest{Round: 1, Difficulty: domain.DifficultyEasy, Mode: domain.ModeQuiz, Topic: "free fire"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.Text != q.Text {
		t.Fatalf("expected bank question, got %+v", got)
	}
	if n, err := redisClient.LLen(ctx, "questions:free fire").Result(); err != nil || n != 1 {
		t.Fatalf("expected cached topic list, got %d (%v)", n, err)
	}
}

func TestRedisBrokerRelaysEnvelopes(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, cleanup := startRedis(t, ctx)
	defer cleanup()
	client, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	broker := infraredis.NewBroker(client, 8, nil)
	defer broker.Close()
	assertBrokerRoundTrip(t, ctx, broker)
}

func TestAMQPBrokerRelaysEnvelopes(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	amqpURL, cleanup := startRabbitMQ(t, ctx)
	defer cleanup()

	broker, err := amqpbroker.Dial(amqpURL, "quizsquad.test", 8, nil)
	if err != nil {
		t.Fatalf("dial amqp: %v", err)
	}
	defer broker.Close()
	assertBrokerRoundTrip(t, ctx, broker)
}

func assertBrokerRoundTrip(t *testing.T, ctx context.Context, broker pubsub.Broker) {
	t.Helper()
	room, err := broker.Subscribe(ctx, pubsub.RoomChannel("AB12"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer room.Close()
	other, err := broker.Subscribe(ctx, pubsub.RoomChannel("ZZ99"))
	if err != nil {
		t.Fatalf("subscribe other: %v", err)
	}
	defer other.Close()

	env, err := pubsub.NewEnvelope(pubsub.RoomChannel("AB12"), domain.EventHostHeartbeat, "host", nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := broker.Publish(ctx, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-room.Messages():
		if got.Sender != "host" || got.Event != domain.EventHostHeartbeat {
			t.Fatalf("unexpected envelope %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("envelope not delivered")
	}
	select {
	case got := <-other.Messages():
		t.Fatalf("other room received %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest) tc.Container {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	return container
}

func endpoint(t *testing.T, ctx context.Context, container tc.Container, port string) (string, string) {
	t.Helper()
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return host, mapped.Port()
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	container := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "squad", "POSTGRES_PASSWORD": "squadpass", "POSTGRES_DB": "squaddb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	})
	host, port := endpoint(t, ctx, container, "5432/tcp")
	dsn := fmt.Sprintf("postgres://squad:squadpass@%s:%s/squaddb?sslmode=disable", host, port)
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	container := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	})
	host, port := endpoint(t, ctx, container, "6379/tcp")
	return fmt.Sprintf("redis://%s:%s", host, port), func() {
		_ = container.Terminate(ctx)
	}
}

func startRabbitMQ(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	container := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "rabbitmq:3-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
	})
	host, port := endpoint(t, ctx, container, "5672/tcp")
	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port), func() {
		_ = container.Terminate(ctx)
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
