package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
	"golang.org/x/crypto/bcrypt"
)

var names = []string{
	"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
	"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
	"Hendra Gunawan", "Ika Sari", "Lukman Hakim", "Maya Septiana", "Nanda Pratama",
	"Putri Dian", "Rafi Ahmad", "Toni Setiawan", "Wahyu Hidayat", "Zaki Anwar",
}

func main() {
	classID := flag.Int("class", 1, "Class ID the demo students and exam belong to")
	count := flag.Int("students", len(names), "Number of demo students")
	password := flag.String("password", "proctor123", "Password for every demo student")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	studentRepo := repository.NewStudentRepository(pool)
	examService := service.NewExamService(
		repository.NewExamRepository(pool),
		repository.NewQuestionRepository(pool),
		repository.NewExamTargetRuleRepository(pool),
		rdb, log,
	)

	// ─── Students ──────────────────────────────────────────────────────
	fmt.Printf("=== Seeding %d students into class %d ===\n", *count, *classID)

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	students := make([]model.Student, *count)
	for i := range students {
		students[i] = model.Student{
			NISN:         fmt.Sprintf("demo%04d", i+1),
			Name:         names[i%len(names)],
			PasswordHash: string(hash),
			ClassID:      *classID,
		}
	}
	n, err := studentRepo.BulkCreate(ctx, students)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to insert students")
	}
	fmt.Printf("Inserted %d students (NISN demo0001..demo%04d)\n", n, *count)

	// ─── Exam ──────────────────────────────────────────────────────────
	exam := &model.Exam{
		Title:           "Demo: Dasar Pemrograman",
		DurationMinutes: 45,
		Proctoring: model.ThresholdConfig{
			EnforceFullscreen:   true,
			TabSwitchingAllowed: false,
			MaxTabSwitches:      3,
			MaxFullscreenExits:  3,
			ActionOnLimit:       model.ActionLock,
		},
	}
	correct := "B"
	options, _ := json.Marshal([]map[string]string{
		{"key": "A", "text": "O(n)"},
		{"key": "B", "text": "O(log n)"},
		{"key": "C", "text": "O(n log n)"},
	})

	drafts := []service.QuestionDraft{
		{
			Question: model.Question{
				Kind:          model.QuestionKindSelectedOption,
				QuestionText:  "Kompleksitas binary search pada array terurut adalah?",
				Options:       options,
				CorrectOption: &correct,
				OrderNum:      1,
				ScoreValue:    10,
			},
		},
		{
			Question: model.Question{
				Kind:         model.QuestionKindFreeText,
				QuestionText: "Jelaskan perbedaan stack dan queue.",
				OrderNum:     2,
			},
		},
		{
			Question: model.Question{
				Kind:         model.QuestionKindSourceCode,
				QuestionText: "Baca dua bilangan bulat dan cetak jumlahnya.",
				Languages:    []string{"python", "go", "cpp"},
				OrderNum:     3,
				ScoreValue:   30,
			},
			TestCases: []model.TestCase{
				{Input: "1 2", ExpectedOutput: "3"},
				{Input: "10 -4", ExpectedOutput: "6"},
				{Input: "1000000 1000000", ExpectedOutput: "2000000", IsHidden: true},
			},
		},
	}

	if err := examService.Create(ctx, exam, drafts, []int{*classID}); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}
	if err := examService.Publish(ctx, exam.ID); err != nil {
		log.Fatal().Err(err).Msg("Failed to publish exam")
	}

	fmt.Printf("\nSeed completed! Published exam %s (%s)\n", exam.ID, exam.Title)
}
