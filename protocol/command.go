package protocol

import (
	"encoding/json"
	"errors"
)

// Outbound command names.
const (
	CommandWriteCard = "WRITE_CARD"
	CommandStatus    = "STATUS"
)

// Command is written to the reader as a single JSON line.
type Command struct {
	Command     string `json:"command"`
	StudentID   string `json:"student_id,omitempty"`
	StudentName string `json:"student_name,omitempty"`
	CardID      string `json:"card_id,omitempty"`
}

// WriteCard asks the reader to write a student's details to the next card.
func WriteCard(studentID, studentName string) Command {
	return Command{Command: CommandWriteCard, StudentID: studentID, StudentName: studentName}
}

// StatusRequest asks the reader for a SYSTEM_STATUS reply.
func StatusRequest() Command {
	return Command{Command: CommandStatus}
}

// Encode renders c as one line without the terminator.
func (c Command) Encode() (string, error) {
	if c.Command == "" {
		return "", errors.New("command name required")
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
