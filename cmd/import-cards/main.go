package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"

	"github.com/slabworks/slab-market/backend/internal/database"
	"github.com/slabworks/slab-market/backend/internal/models"
	"github.com/slabworks/slab-market/backend/internal/services"
)

// import-cards pulls card catalog data from the upstream card API into
// the local database, one set at a time. Sets are processed sequentially;
// a failed set is logged and the run continues with the next one.
//
// Environment: DB_PATH, CARD_API_BASE_URL, CARD_API_KEY (optional),
// UPLOAD_CARD_IMAGES, FUZZY_MATCHING, SIMILARITY_THRESHOLD.
func main() {
	language := flag.String("language", "English", "only import sets in this language")
	setName := flag.String("set", "", "import only the named set")
	limit := flag.Int("limit", 0, "cap on cards fetched per set (0 = no cap)")
	flag.Parse()

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./slab_market.db"
	}
	if err := database.Initialize(dbPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := database.GetDB()

	threshold := services.DefaultSimilarityThreshold
	if raw := os.Getenv("SIMILARITY_THRESHOLD"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 || parsed > 1 {
			log.Fatalf("Invalid SIMILARITY_THRESHOLD %q", raw)
		}
		threshold = parsed
	}

	fuzzyMatching := os.Getenv("FUZZY_MATCHING") != "false"
	uploadImages := os.Getenv("UPLOAD_CARD_IMAGES") == "true"

	client := services.NewCatalogClient(os.Getenv("CARD_API_BASE_URL"), os.Getenv("CARD_API_KEY"))

	var imageStorage *services.ImageStorageService
	if uploadImages {
		imageStorage = services.NewImageStorageService()
	}

	importer := services.NewCatalogImportService(client, db, imageStorage, threshold, fuzzyMatching, uploadImages)

	var sets []models.Set
	query := db.Order("name")
	if *setName != "" {
		query = query.Where("name = ?", *setName)
	} else if *language != "" {
		query = query.Where("language = ?", *language)
	}
	if err := query.Find(&sets).Error; err != nil {
		log.Fatalf("Failed to load sets: %v", err)
	}
	if len(sets) == 0 {
		log.Fatal("No matching sets found; seed the sets table first")
	}

	log.Printf("Importing %d set(s) (fuzzy=%v threshold=%.2f images=%v)", len(sets), fuzzyMatching, threshold, uploadImages)

	ctx := context.Background()
	runStats := services.ImportStats{}
	failedSets := 0

	for _, set := range sets {
		stats, err := importer.ImportSet(ctx, set, *limit)
		if err != nil {
			// A failed set never aborts the run; partial counts still merge.
			log.Printf("Import of set %q failed: %v", set.Name, err)
			failedSets++
		}
		stats.PrintReport(set.Name)
		runStats.Merge(stats)
	}

	runStats.PrintReport("run total")
	if failedSets > 0 {
		log.Printf("%d set(s) failed to import", failedSets)
		os.Exit(1)
	}
}
