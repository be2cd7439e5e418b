package attendance

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// LoadRoster reads a tab separated roster file:
//
//	card_id<TAB>student_id<TAB>name
//
// Blank lines and lines starting with # are skipped. The card id may be empty
// for students without a card yet. A missing file is created empty.
func LoadRoster(path string) ([]Student, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create roster directory")
	}

	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open roster")
	}
	defer file.Close()

	var students []Student
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			return nil, errors.Errorf("roster %s line %d: want 3 tab separated fields, got %d", path, lineNo, len(parts))
		}
		st := Student{
			CardID: NormalizeCardID(parts[0]),
			ID:     strings.TrimSpace(parts[1]),
			Name:   strings.TrimSpace(parts[2]),
		}
		if st.ID == "" {
			return nil, errors.Errorf("roster %s line %d: empty student id", path, lineNo)
		}
		students = append(students, st)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read roster")
	}
	return students, nil
}
