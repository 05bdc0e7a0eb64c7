package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// FileState — состояние файла в 14-позиционном жизненном цикле.
// Строковое значение — wire-кодировка, на модельном уровне тип закрыт.
type FileState string

const (
	StateCreated            FileState = "CREATED"
	StateUploading          FileState = "UPLOADING"
	StateValidated          FileState = "VALIDATED"
	StateTempStored         FileState = "TEMP_STORED"
	StateMetadataRegistered FileState = "METADATA_REGISTERED"
	StateQueued             FileState = "QUEUED"
	StateProcessing         FileState = "PROCESSING"
	StateOutputGenerated    FileState = "OUTPUT_GENERATED"
	StatePreviewGenerated   FileState = "PREVIEW_GENERATED"
	StateStoredFinal        FileState = "STORED_FINAL"
	StateAvailable          FileState = "AVAILABLE"
	StateExpired            FileState = "EXPIRED"
	StateFailed             FileState = "FAILED"
	StateDeleted            FileState = "DELETED"
)

// fileTransitions — матрица допустимых переходов.
// Ключ — текущее состояние, значение — набор допустимых целевых.
var fileTransitions = map[FileState]map[FileState]bool{
	StateCreated:            {StateUploading: true, StateFailed: true, StateDeleted: true},
	StateUploading:          {StateValidated: true, StateFailed: true},
	StateValidated:          {StateTempStored: true, StateFailed: true},
	StateTempStored:         {StateMetadataRegistered: true, StateFailed: true},
	StateMetadataRegistered: {StateQueued: true, StateFailed: true},
	StateQueued:             {StateProcessing: true, StateFailed: true},
	StateProcessing:         {StateOutputGenerated: true, StateFailed: true},
	StateOutputGenerated:    {StatePreviewGenerated: true, StateStoredFinal: true, StateFailed: true},
	StatePreviewGenerated:   {StateStoredFinal: true, StateFailed: true},
	StateStoredFinal:        {StateAvailable: true, StateFailed: true},
	StateAvailable:          {StateExpired: true, StateDeleted: true},
	StateExpired:            {StateDeleted: true},
	StateFailed:             {StateDeleted: true, StateQueued: true}, // QUEUED — путь ретрая
	StateDeleted:            {},                                     // терминальное
}

// CanTransition сообщает, допустим ли переход from -> to.
func (s FileState) CanTransition(to FileState) bool {
	return fileTransitions[s][to]
}

// IsTerminal — из состояния нет исходящих переходов.
func (s FileState) IsTerminal() bool {
	return len(fileTransitions[s]) == 0
}

// Valid — состояние входит в закрытый набор.
func (s FileState) Valid() bool {
	_, ok := fileTransitions[s]
	return ok
}

// AllFileStates возвращает полный набор состояний (для тестов и справки).
func AllFileStates() []FileState {
	states := make([]FileState, 0, len(fileTransitions))
	for s := range fileTransitions {
		states = append(states, s)
	}
	return states
}

// ActorKind — кто выполнил переход состояния.
type ActorKind string

const (
	ActorUser   ActorKind = "USER"
	ActorWorker ActorKind = "WORKER"
	ActorSystem ActorKind = "SYSTEM"
)

// File — долговременная запись о пользовательском файле.
// OwnerUUID пустой для гостевых загрузок.
type File struct {
	UUID             string     `db:"uuid" json:"uuid"`
	OwnerUUID        *string    `db:"owner_uuid" json:"owner_uuid,omitempty"`
	FilenameOriginal string     `db:"filename_original" json:"filename_original"`
	StoragePath      string     `db:"storage_path" json:"-"`
	SizeBytes        int64      `db:"size_bytes" json:"size_bytes"`
	MimeType         string     `db:"mime_type" json:"mime_type"`
	Sha256           string     `db:"sha256" json:"sha256"`
	PageCount        int        `db:"page_count" json:"page_count"`
	Version          int        `db:"version" json:"version"`
	State            FileState  `db:"state" json:"state"`
	Metadata         Metadata   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt        *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// IsGuest — файл загружен анонимным пользователем.
func (f *File) IsGuest() bool {
	return f.OwnerUUID == nil || *f.OwnerUUID == ""
}

// FileStateLog — append-only запись перехода состояния.
// Инвариант: to_state последней записи равен текущему состоянию файла.
type FileStateLog struct {
	ID        int64     `db:"id" json:"id"`
	FileUUID  string    `db:"file_uuid" json:"file_uuid"`
	FromState FileState `db:"from_state" json:"from_state"`
	ToState   FileState `db:"to_state" json:"to_state"`
	ActorID   string    `db:"actor_id" json:"actor_id"`
	ActorKind ActorKind `db:"actor_kind" json:"actor_kind"`
	Metadata  Metadata  `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FileVersion — неизменяемый снимок, созданный успешным воркером.
type FileVersion struct {
	ID            int64     `db:"id" json:"id"`
	FileUUID      string    `db:"file_uuid" json:"file_uuid"`
	VersionNumber int       `db:"version_number" json:"version_number"`
	StoragePath   string    `db:"storage_path" json:"-"`
	SizeBytes     int64     `db:"size_bytes" json:"size_bytes"`
	Sha256        string    `db:"sha256" json:"sha256"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Metadata — произвольная карта метаданных, хранится в jsonb.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return json.Unmarshal([]byte("{}"), m)
}
