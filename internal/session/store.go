package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 会话目录下的固定子目录
const (
	DirStory     = "story"
	DirImages    = "images"
	DirProcessed = "processed"
	DirFinal     = "final"
	DirUploads   = "uploads"
)

var subDirs = []string{DirStory, DirImages, DirProcessed, DirFinal}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// NewID 生成会话ID，格式为session_<8位十六进制>
func NewID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// SanitizeID 替换会话ID中的非法字符，防止路径逃逸
func SanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return unsafeIDChars.ReplaceAllString(id, "_")
}

// Store 会话目录管理
type Store struct {
	mediaRoot string
	log       *logrus.Entry
}

// NewStore 创建会话存储，mediaRoot为空时使用工作目录下的media
func NewStore(mediaRoot string) *Store {
	return &Store{
		mediaRoot: mediaRoot,
		log:       logrus.WithField("component", "session_store"),
	}
}

// MediaRoot 返回配置的媒体根目录
func (s *Store) MediaRoot() string {
	if s.mediaRoot == "" {
		return "media"
	}
	return s.mediaRoot
}

// CreateSessionDirectory 创建 <media_root>/sessions/<id>/ 及固定子目录。
// 重复调用是幂等的；主目录不可用时依次降级到工作目录下的media、工作目录本身，不返回错误。
func (s *Store) CreateSessionDirectory(sessionID string) string {
	id := SanitizeID(sessionID)
	if id == "" {
		id = NewID()
	}

	candidates := s.candidateRoots()
	for i, root := range candidates {
		dir := filepath.Join(root, "sessions", id)
		if err := makeSessionDirs(dir); err != nil {
			s.log.WithError(err).WithField("dir", dir).Warn("会话目录创建失败，尝试降级目录")
			continue
		}
		if i > 0 {
			s.log.WithField("dir", dir).Warn("使用降级会话目录")
		}
		return dir
	}

	// 最后的兜底：工作目录本身
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	if abs, err := filepath.Abs(cwd); err == nil {
		cwd = abs
	}
	s.log.WithField("dir", cwd).Error("所有会话目录均不可用，使用当前工作目录")
	return cwd
}

// SessionPath 返回会话实际所在的目录，不创建。
// 依次查找主目录和降级目录，都不存在时返回主目录下的路径。
func (s *Store) SessionPath(sessionID string) (string, error) {
	id := SanitizeID(sessionID)
	if id == "" {
		return "", fmt.Errorf("empty session id")
	}
	roots := s.candidateRoots()
	if len(roots) == 0 {
		return "", fmt.Errorf("no media root available")
	}
	for _, root := range roots {
		dir := filepath.Join(root, "sessions", id)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return filepath.Join(roots[0], "sessions", id), nil
}

// Cleanup 删除主目录和降级目录下该会话的目录。
// 兜底到工作目录本身的会话没有独立目录，不做删除。
func (s *Store) Cleanup(sessionID string) error {
	id := SanitizeID(sessionID)
	if id == "" {
		return fmt.Errorf("empty session id")
	}
	for _, root := range s.candidateRoots() {
		dir := filepath.Join(root, "sessions", id)
		if _, err := os.Stat(dir); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove session dir: %w", err)
		}
		s.log.WithFields(logrus.Fields{"session_id": id, "dir": dir}).Info("会话目录已清理")
	}
	return nil
}

// MediaURL 把媒体根目录下的文件路径映射为 /media/ 开头的URL，根目录外的路径返回空串。
// /media 只挂载配置的媒体根目录，降级目录中的文件没有URL。
func (s *Store) MediaURL(path string) string {
	if path == "" {
		return ""
	}
	root, err := filepath.Abs(s.MediaRoot())
	if err != nil {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return "/media/" + filepath.ToSlash(rel)
}

func (s *Store) candidateRoots() []string {
	var roots []string
	if s.mediaRoot != "" {
		if abs, err := filepath.Abs(s.mediaRoot); err == nil {
			roots = append(roots, abs)
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, filepath.Join(cwd, "media"))
	}
	return roots
}

func makeSessionDirs(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, sub := range subDirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}
