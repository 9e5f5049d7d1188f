package service

import (
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/upload-backend/internal/config"
	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
)

// uploadedSlot выдаёт слот и загружает в него payload.
func (e *testEnv) uploadedSlot(t *testing.T, filename string) *UploadSlot {
	t.Helper()

	body := []byte("payload for " + filename)
	slot := e.requestSlot(t, filename, int64(len(body)), "")
	if err := e.upload(t, slot, body); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return slot
}

// deleteToken запрашивает токен удаления от имени владельца.
func (e *testEnv) deleteToken(t *testing.T, fileURL string) *DeleteAuthorization {
	t.Helper()

	auth, err := e.svc.RequestDeleteAuthorization(DeleteAuthorizationRequest{
		ServerKey:    testServerKey,
		RequesterJID: testOwner,
		FileURL:      fileURL,
	})
	if err != nil {
		t.Fatalf("RequestDeleteAuthorization: %v", err)
	}
	return auth
}

func tokenMode(c *config.Config) { c.DeleteMode = config.DeleteModeToken }

// TestDelete_CreatorMode проверяет сравнение владельца по bare JID.
func TestDelete_CreatorMode(t *testing.T) {
	env := newTestEnv(t)
	slot := env.uploadedSlot(t, "doc.txt")

	err := env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", RequesterJID: "bob@example.com"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("чужой JID: ожидалась ErrUnauthorized, получено %v", err)
	}
	if !env.store.Exists(slot.ID, "doc.txt") {
		t.Fatal("payload не должен удаляться при отказе")
	}

	// Другой ресурс того же пользователя
	err = env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", RequesterJID: "alice@example.com/laptop"})
	if err != nil {
		t.Fatalf("владелец с другим ресурсом: %v", err)
	}
	if env.store.Exists(slot.ID, "doc.txt") {
		t.Error("payload должен быть удалён")
	}
	if env.store.HasDirectory(slot.ID) {
		t.Error("директория слота должна быть удалена")
	}

	rec, err := env.registry.Load(slot.ID)
	if err != nil {
		t.Fatalf("запись слота должна сохраниться: %v", err)
	}
	if !rec.IsDeleted() {
		t.Error("запись должна быть помечена надгробием")
	}
	env.assertNoPendingWAL(t)

	err = env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", RequesterJID: testOwner})
	if !errors.Is(err, ErrPayloadNotFound) {
		t.Errorf("повторное удаление: ожидалась ErrPayloadNotFound, получено %v", err)
	}
}

func TestDelete_CreatorModeEmptyRequester(t *testing.T) {
	env := newTestEnv(t)
	slot := env.uploadedSlot(t, "doc.txt")

	err := env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("ожидалась ErrUnauthorized, получено %v", err)
	}
}

func TestDelete_CommonFailures(t *testing.T) {
	env := newTestEnv(t)
	uploaded := env.uploadedSlot(t, "doc.txt")
	pending := env.requestSlot(t, "later.txt", 5, "")

	tests := []struct {
		name string
		req  DeleteRequest
		want *Error
	}{
		{
			name: "слот не существует",
			req:  DeleteRequest{ID: "0f8fad5b-d9cb-469f-a165-70867728950e", Filename: "doc.txt", RequesterJID: testOwner},
			want: ErrSlotNotFound,
		},
		{
			name: "некорректный id",
			req:  DeleteRequest{ID: "../../etc", Filename: "doc.txt", RequesterJID: testOwner},
			want: ErrSlotNotFound,
		},
		{
			name: "имя не совпадает",
			req:  DeleteRequest{ID: uploaded.ID, Filename: "other.txt", RequesterJID: testOwner},
			want: ErrUnauthorized,
		},
		{
			name: "payload ещё не загружен",
			req:  DeleteRequest{ID: pending.ID, Filename: "later.txt", RequesterJID: testOwner},
			want: ErrPayloadNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := env.svc.Delete(tt.req); !errors.Is(err, tt.want) {
				t.Errorf("ожидалась %v, получено %v", tt.want, err)
			}
		})
	}
	env.assertNoPendingWAL(t)
}

func TestDelete_TokenMode(t *testing.T) {
	env := newTestEnv(t, tokenMode)
	slot := env.uploadedSlot(t, "doc.txt")
	auth := env.deleteToken(t, slot.GetURL)

	// Без токена и с JID владельца — отказ
	err := env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", RequesterJID: testOwner})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("без токена: ожидалась ErrUnauthorized, получено %v", err)
	}

	err = env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", DeleteToken: auth.Token + "x"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("неверный токен: ожидалась ErrUnauthorized, получено %v", err)
	}

	if err := env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", DeleteToken: auth.Token}); err != nil {
		t.Fatalf("удаление по токену: %v", err)
	}
	if env.store.Exists(slot.ID, "doc.txt") {
		t.Error("payload должен быть удалён")
	}

	rec, _ := env.registry.Load(slot.ID)
	if rec.HasDeleteToken() {
		t.Error("токен должен быть сброшен после использования")
	}

	// Токен одноразовый
	err = env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", DeleteToken: auth.Token})
	if err == nil {
		t.Error("повторное использование токена должно отклоняться")
	}
	env.assertNoPendingWAL(t)
}

// TestDelete_TokenExpiry проверяет ленивую проверку срока токена.
func TestDelete_TokenExpiry(t *testing.T) {
	env := newTestEnv(t, tokenMode)
	slot := env.uploadedSlot(t, "doc.txt")
	issuedAt := env.now
	auth := env.deleteToken(t, slot.PutURL)

	if want := issuedAt.Add(env.cfg.DeleteTokenValidity); !auth.ValidUntil.Equal(want) {
		t.Errorf("ValidUntil: ожидалось %v, получено %v", want, auth.ValidUntil)
	}

	env.now = issuedAt.Add(env.cfg.DeleteTokenValidity + time.Second)
	err := env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", DeleteToken: auth.Token})
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("ожидалась ErrTokenExpired, получено %v", err)
	}
	if !env.store.Exists(slot.ID, "doc.txt") {
		t.Fatal("payload не должен удаляться истёкшим токеном")
	}

	// Ровно в момент истечения токен ещё действует
	env.now = issuedAt.Add(env.cfg.DeleteTokenValidity)
	if err := env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", DeleteToken: auth.Token}); err != nil {
		t.Errorf("удаление в момент истечения: %v", err)
	}
}

// TestDelete_TokenExpiry_SubSecond проверяет, что окно действия токена
// не сокращается до целых секунд.
func TestDelete_TokenExpiry_SubSecond(t *testing.T) {
	env := newTestEnv(t, tokenMode)
	slot := env.uploadedSlot(t, "doc.txt")

	env.now = env.now.Add(900 * time.Millisecond)
	issuedAt := env.now
	auth := env.deleteToken(t, slot.PutURL)

	want := issuedAt.Add(env.cfg.DeleteTokenValidity)
	if !auth.ValidUntil.Equal(want) {
		t.Fatalf("ValidUntil: ожидалось %v, получено %v", want, auth.ValidUntil)
	}
	rec, err := env.registry.Load(slot.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.DeleteTokenExpiry == nil || !rec.DeleteTokenExpiry.Equal(want) {
		t.Fatalf("срок в записи: ожидалось %v, получено %v", want, rec.DeleteTokenExpiry)
	}

	// За 100 мс до конца окна токен действует
	env.now = want.Add(-100 * time.Millisecond)
	if err := env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", DeleteToken: auth.Token}); err != nil {
		t.Errorf("удаление внутри окна действия: %v", err)
	}
}

// TestDelete_TokenReplaced проверяет, что новый токен заменяет предыдущий.
func TestDelete_TokenReplaced(t *testing.T) {
	env := newTestEnv(t, tokenMode)
	slot := env.uploadedSlot(t, "doc.txt")

	first := env.deleteToken(t, slot.GetURL)
	env.now = env.now.Add(time.Second)
	second := env.deleteToken(t, slot.GetURL)

	if first.Token == second.Token {
		t.Fatal("токены должны различаться")
	}

	err := env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", DeleteToken: first.Token})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("заменённый токен: ожидалась ErrUnauthorized, получено %v", err)
	}
	if err := env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", DeleteToken: second.Token}); err != nil {
		t.Errorf("актуальный токен: %v", err)
	}
}

// TestDelete_TokenOfOtherSlot проверяет привязку подписи токена к слоту.
func TestDelete_TokenOfOtherSlot(t *testing.T) {
	env := newTestEnv(t, tokenMode)
	a := env.uploadedSlot(t, "a.txt")
	b := env.uploadedSlot(t, "b.txt")

	auth := env.deleteToken(t, a.GetURL)

	// Токен слота a подкладывается в запись слота b
	expiry := auth.ValidUntil
	if _, err := env.registry.Update(b.ID, func(rec *model.Slot) error {
		rec.DeleteToken = auth.Token
		rec.DeleteTokenExpiry = &expiry
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	err := env.svc.Delete(DeleteRequest{ID: b.ID, Filename: "b.txt", DeleteToken: auth.Token})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("ожидалась ErrUnauthorized, получено %v", err)
	}
	if !env.store.Exists(b.ID, "b.txt") {
		t.Error("payload слота b не должен удаляться")
	}
}

// TestDelete_AnyMode проверяет выбор режима по наличию токена.
func TestDelete_AnyMode(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.DeleteMode = config.DeleteModeAny })

	byOwner := env.uploadedSlot(t, "owner.txt")
	if err := env.svc.Delete(DeleteRequest{ID: byOwner.ID, Filename: "owner.txt", RequesterJID: testOwner}); err != nil {
		t.Errorf("удаление владельцем: %v", err)
	}

	byToken := env.uploadedSlot(t, "token.txt")
	auth := env.deleteToken(t, byToken.GetURL)

	// При переданном токене владелец не проверяется
	err := env.svc.Delete(DeleteRequest{ID: byToken.ID, Filename: "token.txt", RequesterJID: testOwner, DeleteToken: "bogus"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("неверный токен: ожидалась ErrUnauthorized, получено %v", err)
	}
	err = env.svc.Delete(DeleteRequest{ID: byToken.ID, Filename: "token.txt", RequesterJID: "mallory@example.com", DeleteToken: auth.Token})
	if err != nil {
		t.Errorf("удаление по токену: %v", err)
	}
}

func TestRequestDeleteAuthorization_StoresToken(t *testing.T) {
	env := newTestEnv(t, tokenMode)
	slot := env.uploadedSlot(t, "doc.txt")

	auth := env.deleteToken(t, slot.GetURL)

	rec, err := env.registry.Load(slot.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.DeleteToken != auth.Token {
		t.Error("токен должен храниться в записи слота")
	}
	if rec.DeleteTokenExpiry == nil || !rec.DeleteTokenExpiry.Equal(auth.ValidUntil) {
		t.Errorf("срок токена в записи: ожидалось %v, получено %v", auth.ValidUntil, rec.DeleteTokenExpiry)
	}
	if err := env.svc.tokens.Verify(auth.Token, slot.ID); err != nil {
		t.Errorf("выданный токен должен проходить проверку: %v", err)
	}
}

// TestRequestDeleteAuthorization_BeforeUpload проверяет выдачу токена
// для ещё не загруженного слота.
func TestRequestDeleteAuthorization_BeforeUpload(t *testing.T) {
	env := newTestEnv(t, tokenMode)
	slot := env.requestSlot(t, "later.txt", 4, "")

	auth := env.deleteToken(t, slot.PutURL)
	if err := env.upload(t, slot, []byte("data")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "later.txt", DeleteToken: auth.Token}); err != nil {
		t.Errorf("удаление по ранее выданному токену: %v", err)
	}
}

func TestRequestDeleteAuthorization_Failures(t *testing.T) {
	env := newTestEnv(t, tokenMode)
	slot := env.uploadedSlot(t, "doc.txt")
	deleted := env.uploadedSlot(t, "gone.txt")
	if err := env.svc.Delete(DeleteRequest{ID: deleted.ID, Filename: "gone.txt", DeleteToken: env.deleteToken(t, deleted.GetURL).Token}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	tests := []struct {
		name string
		req  DeleteAuthorizationRequest
		want *Error
	}{
		{
			name: "неверный ключ",
			req:  DeleteAuthorizationRequest{ServerKey: "wrong", RequesterJID: testOwner, FileURL: slot.GetURL},
			want: ErrUnauthorized,
		},
		{
			name: "нет user_jid",
			req:  DeleteAuthorizationRequest{ServerKey: testServerKey, FileURL: slot.GetURL},
			want: ErrMissingParameter,
		},
		{
			name: "нет file_url",
			req:  DeleteAuthorizationRequest{ServerKey: testServerKey, RequesterJID: testOwner},
			want: ErrMissingParameter,
		},
		{
			name: "URL без слота",
			req:  DeleteAuthorizationRequest{ServerKey: testServerKey, RequesterJID: testOwner, FileURL: "https://example.com/whatever"},
			want: ErrInvalidParameter,
		},
		{
			name: "слот не существует",
			req: DeleteAuthorizationRequest{
				ServerKey:    testServerKey,
				RequesterJID: testOwner,
				FileURL:      testBaseURL + "/0f8fad5b-d9cb-469f-a165-70867728950e/doc.txt",
			},
			want: ErrUnauthorized,
		},
		{
			name: "имя не совпадает",
			req:  DeleteAuthorizationRequest{ServerKey: testServerKey, RequesterJID: testOwner, FileURL: testBaseURL + "/" + slot.ID + "/x.txt"},
			want: ErrUnauthorized,
		},
		{
			name: "не владелец",
			req:  DeleteAuthorizationRequest{ServerKey: testServerKey, RequesterJID: "bob@example.com", FileURL: slot.GetURL},
			want: ErrUnauthorized,
		},
		{
			name: "слот удалён",
			req:  DeleteAuthorizationRequest{ServerKey: testServerKey, RequesterJID: testOwner, FileURL: deleted.GetURL},
			want: ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.RequestDeleteAuthorization(tt.req); !errors.Is(err, tt.want) {
				t.Errorf("ожидалась %v, получено %v", tt.want, err)
			}
		})
	}
}

// TestRequestDeleteAuthorization_AnyRequester проверяет выдачу токена
// не владельцу при отключённом ограничении.
func TestRequestDeleteAuthorization_AnyRequester(t *testing.T) {
	env := newTestEnv(t, tokenMode, func(c *config.Config) { c.DeleteTokenOwnerOnly = false })
	slot := env.uploadedSlot(t, "doc.txt")

	auth, err := env.svc.RequestDeleteAuthorization(DeleteAuthorizationRequest{
		ServerKey:    testServerKey,
		RequesterJID: "bob@example.com",
		FileURL:      slot.GetURL,
	})
	if err != nil {
		t.Fatalf("RequestDeleteAuthorization: %v", err)
	}
	if err := env.svc.Delete(DeleteRequest{ID: slot.ID, Filename: "doc.txt", DeleteToken: auth.Token}); err != nil {
		t.Errorf("Delete: %v", err)
	}
}
