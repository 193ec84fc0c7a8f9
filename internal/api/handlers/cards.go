package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/slabworks/slab-market/backend/internal/models"
)

type CardHandler struct {
	db *gorm.DB
}

func NewCardHandler(db *gorm.DB) *CardHandler {
	return &CardHandler{db: db}
}

func (h *CardHandler) SearchCards(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	setName := strings.TrimSpace(c.Query("set"))

	if query == "" && setName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' or 'set' is required"})
		return
	}

	tx := h.db.Model(&models.Card{})
	if query != "" {
		tx = tx.Where("name LIKE ?", "%"+query+"%")
	}
	if setName != "" {
		tx = tx.Where("set_name = ?", setName)
	}

	var cards []models.Card
	if err := tx.Order("set_name, name").Limit(100).Find(&cards).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.CardSearchResult{
		Cards:      cards,
		TotalCount: len(cards),
		HasMore:    len(cards) == 100,
	})
}

// GetCard looks a card up by id first, then by slug, so both canonical
// API links and marketplace URLs resolve.
func (h *CardHandler) GetCard(c *gin.Context) {
	id := c.Param("id")

	var card models.Card
	err := h.db.First(&card, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		err = h.db.First(&card, "slug = ?", id).Error
	}
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, card)
}

func (h *CardHandler) ListSets(c *gin.Context) {
	var sets []models.Set
	if err := h.db.Order("name").Find(&sets).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sets": sets, "total_count": len(sets)})
}
