package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"pdfchat/internal/ai"
	"pdfchat/internal/app"
	"pdfchat/internal/pkg/pdfextract"
	"pdfchat/internal/transport/http/response"
	"pdfchat/internal/vectorstore/qdrant"
)

const maxPDFSize = 10 << 20 // 10 MB

type DocumentHandler struct {
	ragService *app.RAGService
}

type IngestTextRequest struct {
	Title   string `json:"title" binding:"max=256"`
	Content string `json:"content" binding:"required"`
}

func NewDocumentHandler(ragService *app.RAGService) *DocumentHandler {
	return &DocumentHandler{ragService: ragService}
}

// UploadPDF accepts a multipart form with "file", extracts the text and
// starts a new chat session for the document.
func (h *DocumentHandler) UploadPDF(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxPDFSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 10MB)")
		return
	}
	if strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF files are allowed")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	text, err := pdfextract.ExtractText(f)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to extract text from PDF: "+err.Error())
		return
	}

	title := strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))

	result, err := h.ragService.Ingest(c.Request.Context(), app.IngestInput{
		Title:   title,
		Content: text,
	})
	if err != nil {
		writeIngestError(c, err)
		return
	}
	response.OK(c, result)
}

// IngestText ingests pre-extracted text, for callers that do their own
// document handling.
func (h *DocumentHandler) IngestText(c *gin.Context) {
	var req IngestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.ragService.Ingest(c.Request.Context(), app.IngestInput{
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		writeIngestError(c, err)
		return
	}
	response.OK(c, result)
}

func writeIngestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrIngest), errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, qdrant.ErrUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeIndexUnavailable, err.Error())
	case errors.Is(err, ai.ErrGeneration), errors.Is(err, ai.ErrEmbedding):
		response.Error(c, http.StatusBadGateway, response.CodeGenerationFailed, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest failed")
	}
}
