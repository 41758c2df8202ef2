package router

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"print_kiosk/internal/blob"
	"print_kiosk/internal/document"
	"print_kiosk/internal/model"
	"print_kiosk/internal/pricing"
	"print_kiosk/internal/store"
)

// allowedTypes 可打印的文件类型，按内容嗅探而非客户端声明判断。
var allowedTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"image/png",
	"image/jpeg",
}

// upload 接收 multipart 字段 document 并落盘。
// 页数由服务端决定：PDF 解析得出，图片按 1 页计；
// Word 文档无法在服务端排版，必须由表单 page_count 给出。
func upload(st store.Store, files blob.LocalFS, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		// multipart 编码开销留 1MB 余量
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+1<<20)

		fh, err := c.FormFile("document")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": 413, "msg": "文件过大"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "缺少上传文件 document"})
			return
		}
		if fh.Size > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": 413, "msg": fmt.Sprintf("文件不能超过 %d MB", maxBytes>>20)})
			return
		}

		mime, err := detect(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "无法读取上传文件"})
			return
		}
		if !mimetype.EqualsAny(mime.String(), allowedTypes...) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"code": 415, "msg": "仅支持 PDF、DOC、DOCX、PNG、JPG 文件，检测到 " + mime.String()})
			return
		}

		pageCount, err := countPages(fh, mime, c.PostForm("page_count"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		fileID := uuid.New().String()
		src, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "无法读取上传文件"})
			return
		}
		defer src.Close()

		path, err := files.Put(fileID+mime.Extension(), src)
		if err != nil {
			writeError(c, fmt.Errorf("%w: save upload: %v", store.ErrStorageUnavailable, err))
			return
		}

		rec := &model.FileRecord{
			FileID:       fileID,
			OriginalName: filepath.Base(fh.Filename),
			StoragePath:  path,
			MimeType:     mime.String(),
			SizeBytes:    fh.Size,
			PageCount:    pageCount,
		}
		if err := st.PutFile(c.Request.Context(), rec); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": rec})
	}
}

func detect(fh *multipart.FileHeader) (*mimetype.MIME, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return mimetype.DetectReader(f)
}

func countPages(fh *multipart.FileHeader, mime *mimetype.MIME, declared string) (int, error) {
	switch {
	case strings.HasPrefix(mime.String(), "image/"):
		return 1, nil
	case mime.Is("application/pdf"):
		f, err := fh.Open()
		if err != nil {
			return 0, err
		}
		defer f.Close()
		n, err := document.PDFPageCount(f)
		if err != nil {
			return 0, fmt.Errorf("无法解析 PDF 页数")
		}
		if n > pricing.MaxPages {
			return 0, fmt.Errorf("PDF 不能超过 %d 页", pricing.MaxPages)
		}
		return n, nil
	default:
		return parsePageCount(declared)
	}
}

func parsePageCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > pricing.MaxPages {
		return 0, fmt.Errorf("page_count 必须是 1 到 %d 之间的整数", pricing.MaxPages)
	}
	return n, nil
}
