package responder

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Category string

const (
	CategoryGreeting  Category = "greeting"
	CategoryToursInfo Category = "tours_info"
	CategoryPrices    Category = "prices"
	CategoryBooking   Category = "booking"
	CategoryEquipment Category = "equipment"
	CategorySafety    Category = "safety"
	CategoryDates     Category = "dates"
	CategoryFallback  Category = "fallback"
)

var categories = []Category{
	CategoryGreeting, CategoryToursInfo, CategoryPrices, CategoryBooking,
	CategoryEquipment, CategorySafety, CategoryDates, CategoryFallback,
}

func (c Category) Valid() bool {
	for _, k := range categories {
		if k == c {
			return true
		}
	}
	return false
}

// Templates holds the canned replies per category. The first entry of each
// category is the one served.
type Templates map[Category][]string

func (t Templates) First(c Category) (string, bool) {
	list := t[c]
	if len(list) == 0 {
		return "", false
	}
	return list[0], true
}

// LoadTemplates reads a YAML file of category -> list of templates. Categories
// the file omits keep their built-in texts.
func LoadTemplates(path string) (Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}

	out := DefaultTemplates()
	for name, list := range raw {
		c := Category(name)
		if !c.Valid() {
			return nil, fmt.Errorf("templates %s: unknown category %q", path, name)
		}
		if len(list) == 0 {
			continue
		}
		out[c] = list
	}
	return out, nil
}

func DefaultTemplates() Templates {
	return Templates{
		CategoryGreeting: {
			"Здравствуйте! Добро пожаловать в турагентство 'Все на сплав'! 🚣‍♂️",
			"Привет! Рады видеть вас в нашем агентстве речных сплавов! 😊",
			"Добро пожаловать! Мы организуем незабываемые сплавы по рекам Урала! 🏞️",
		},
		CategoryToursInfo: {
			`🚣‍♂️ Наши основные направления:

📍 **Река Чусовая** - семейные сплавы 2-5 дней
💰 От 15,000 руб/чел
👨‍👩‍👧‍👦 Подходит для начинающих и семей с детьми

📍 **Река Серга** - однодневные сплавы
💰 От 3,500 руб/чел
⭐ Идеально для первого опыта

Что вас интересует больше?`,
			`🏞️ Популярные туры:

🌟 **Чусовая "Семейный"** (3 дня)
- Спокойные пороги
- Питание и снаряжение включено
- Цена: 18,000 руб/чел

🌟 **Серга "Знакомство"** (1 день)
- Для новичков
- Инструктаж и сопровождение
- Цена: 3,500 руб/чел

Хотите узнать подробности?`,
		},
		CategoryPrices: {
			`💰 **Актуальные цены на сплавы:**

🚣‍♂️ **Чусовая:**
• 2 дня - от 15,000 руб
• 3 дня - от 18,000 руб
• 5 дней - от 25,000 руб

🚣‍♀️ **Серга:**
• 1 день - от 3,500 руб

В стоимость включено: снаряжение, питание, инструктор, трансфер.

Интересует конкретный тур?`,
			`📋 **Что включено в стоимость:**

✅ Рафт и весла
✅ Спасательные жилеты
✅ Гермомешки
✅ Трехразовое питание
✅ Опытный инструктор
✅ Трансфер от/до города
✅ Страховка

Дополнительно оплачивается только личное снаряжение (по желанию).

Есть вопросы по программе?`,
		},
		CategoryBooking: {
			`📝 **Для бронирования нужно:**

1️⃣ Выбрать тур и даты
2️⃣ Указать количество участников
3️⃣ Внести предоплату 30%
4️⃣ Получить подтверждение

🔗 Заполните форму: [ссылка на форму]
📞 Или звоните: +7-XXX-XXX-XX-XX

Готовы забронировать?`,
			`✨ **Бронирование за 3 шага:**

🎯 Шаг 1: Выберите тур
🗓️ Шаг 2: Укажите даты
👥 Шаг 3: Количество человек

💳 Предоплата: 30% от стоимости
⏰ Бронь действует 3 дня

Какой тур вас интересует?`,
		},
		CategoryEquipment: {
			`🎒 **Что взять с собой:**

👕 **Одежда:**
• Быстросохнущая одежда
• Сменный комплект
• Теплая кофта
• Дождевик

👟 **Обувь:**
• Кроссовки (можно старые)
• Сандалии для лагеря

🧴 **Личное:**
• Солнцезащитный крем
• Головной убор
• Личная аптечка

Снаряжение для сплава предоставляем мы!`,
			`⚡ **Что НЕ нужно брать:**

❌ Спасжилеты (выдаем)
❌ Рафт и весла (наши)
❌ Палатки (включены)
❌ Котлы и горелки (есть)

✅ **Берите только:**
• Личные вещи
• Сменную одежду
• Средства гигиены
• Хорошее настроение! 😊

Остальное - наша забота!`,
		},
		CategorySafety: {
			`🛡️ **Безопасность - наш приоритет:**

👨‍🏫 Опытные инструкторы (стаж 5+ лет)
🦺 Сертифицированные спасжилеты
📡 Спутниковая связь на маршруте
🏥 Аптечка и обученный медик
🚁 Связь со службой спасения

📋 Все участники проходят инструктаж по безопасности.

Есть медицинские ограничения?`,
			`⚠️ **Требования к участникам:**

✅ Возраст: от 8 лет
✅ Умение плавать обязательно
✅ Отсутствие серьезных заболеваний
✅ Физическая подготовка: базовая

❗ **Противопоказания:**
• Беременность
• Сердечно-сосудистые заболевания
• Недавние травмы

Все в порядке со здоровьем?`,
		},
		CategoryDates: {
			`📅 **Ближайшие даты:**

🌞 **Июнь:**
• 15-17 июня (Чусовая, 3 дня)
• 22-24 июня (Чусовая, 3 дня)
• 29 июня (Серга, 1 день)

🌞 **Июль:**
• 6-8 июля (Чусовая, 3 дня)
• 13-15 июля (Чусовая, 3 дня)
• 20 июля (Серга, 1 день)

Какие даты вам подходят?`,
			`🗓️ **Как выбрать даты:**

🌡️ **Лучшее время:** май-сентябрь
💧 **Уровень воды:** оптимальный в июне-июле
🌤️ **Погода:** стабильная с июня

📞 Актуальные даты уточняйте по телефону
🔄 Возможна организация в удобные вам даты (группа от 6 человек)

Когда планируете поехать?`,
		},
		CategoryFallback: {
			"Спасибо за вопрос! Сейчас уточню информацию и отвечу подробно.",
			"Интересный вопрос! Позвольте подготовить для вас детальный ответ.",
			"Хороший вопрос! Сейчас найду всю необходимую информацию.",
		},
	}
}
